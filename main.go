package main

import (
	"fmt"
	"os"

	"go.uber.org/fx"

	"social-chat/internal/app"
	"social-chat/internal/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(app.Module(cfg)).Run()
}

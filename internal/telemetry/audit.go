package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Level is the severity attached to an audit record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const auditSchemaVersion = 1

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEnvelope is the broker message for one audit record.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// AuditEmitter publishes security relevant chat actions (denied unsends,
// forbidden reads, server faults) to the audit routing key.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
	now         func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger.Named("audit"),
		now:         time.Now,
	}
}

func (e *AuditEmitter) envelope(level Level, text, requestID string, userID *string) AuditEnvelope {
	return AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       AuditPayload{Level: level, Text: text},
	}
}

// Emit publishes an audit record. A nil emitter is a no-op and publish
// failures are only logged.
func (e *AuditEmitter) Emit(ctx context.Context, level Level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	headers := map[string]string{"x-request-id": requestID}
	if err := e.publisher.Publish(ctx, e.routingKey, e.envelope(level, text, requestID, userID), headers); err != nil {
		e.logger.Warn("audit publish failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	e.logger.Debug("audit emitted", zap.String("level", string(level)), zap.String("request_id", requestID), zap.String("text", text))
}

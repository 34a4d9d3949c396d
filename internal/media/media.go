// Package media removes message attachments from their storage backend.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"social-chat/internal/models"
	"social-chat/internal/observability"
)

// ErrNotOwned is returned for an attachment stored outside its owner's prefix.
var ErrNotOwned = errors.New("media: attachment not owned by user")

// Remover deletes stored attachments. Uploads live under a per-user prefix
// ("<user_id>/...") and a user can only attach or remove their own files.
type Remover interface {
	// Owns reports whether item is stored under ownerID's prefix.
	Owns(ownerID string, item models.Media) bool
	// Remove deletes ownerID's attachments. It is best-effort: every item is
	// tried and the failures are joined into one error.
	Remove(ctx context.Context, ownerID string, items []models.Media) error
}

// ownedKey checks that key is "<ownerID>/<rest>" with a non-empty rest.
func ownedKey(ownerID, key string) bool {
	if ownerID == "" || ownerID == "." || ownerID == ".." || strings.ContainsAny(ownerID, `/\`) {
		return false
	}
	rest, ok := strings.CutPrefix(key, ownerID+"/")
	if !ok || rest == "" {
		return false
	}
	for _, segment := range strings.Split(rest, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}
	return true
}

// ResourceKind is the storage class an attachment belongs to.
type ResourceKind string

const (
	ResourceImage ResourceKind = "image"
	ResourceVideo ResourceKind = "video"
)

// ResourceKindOf maps an attachment kind to its storage class.
// Audio is stored with videos; files with images.
func ResourceKindOf(kind models.MediaKind) ResourceKind {
	switch kind {
	case models.MediaVideo, models.MediaAudio:
		return ResourceVideo
	default:
		return ResourceImage
	}
}

// GroupByResource splits attachments by storage class, keeping order.
func GroupByResource(items []models.Media) map[ResourceKind][]models.Media {
	groups := map[ResourceKind][]models.Media{}
	for _, item := range items {
		kind := ResourceKindOf(item.Kind)
		groups[kind] = append(groups[kind], item)
	}
	return groups
}

// LocalStore removes files served from a local directory under a public URL prefix.
type LocalStore struct {
	root   string
	prefix string
	logger *zap.Logger
}

// NewLocalStore constructs a LocalStore. prefix is the URL path files are served under, e.g. "/assets/".
func NewLocalStore(root, prefix string, logger *zap.Logger) *LocalStore {
	return &LocalStore{root: root, prefix: prefix, logger: logger}
}

func (s *LocalStore) Owns(ownerID string, item models.Media) bool {
	_, err := s.pathFor(ownerID, item.URL)
	return err == nil
}

func (s *LocalStore) Remove(ctx context.Context, ownerID string, items []models.Media) error {
	var errs []error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		path, err := s.pathFor(ownerID, item.URL)
		if err != nil {
			errs = append(errs, err)
			observability.IncMediaDeleteError("local")
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", item.ID, err))
			observability.IncMediaDeleteError("local")
			continue
		}
		s.logger.Debug("media removed", zap.String("media_id", item.ID), zap.String("path", path))
	}
	return errors.Join(errs...)
}

// pathFor resolves a public URL to a file under ownerID's directory.
func (s *LocalStore) pathFor(ownerID, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}
	idx := strings.Index(u.Path, s.prefix)
	if idx < 0 {
		return "", fmt.Errorf("media url %q outside %s", rawURL, s.prefix)
	}
	rel := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+u.Path[idx+len(s.prefix):])), "/")
	if rel == "" {
		return "", fmt.Errorf("media url %q has no file", rawURL)
	}
	if !ownedKey(ownerID, rel) {
		return "", fmt.Errorf("%w: %q", ErrNotOwned, rawURL)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"social-chat/internal/models"
	"social-chat/internal/observability"
)

type objectRemover interface {
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
}

// ObjectStore removes attachments from S3-compatible buckets, one bucket per resource kind.
type ObjectStore struct {
	client  objectRemover
	buckets map[ResourceKind]string
	logger  *zap.Logger
}

// ObjectStoreConfig describes the object storage connection.
type ObjectStoreConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	ImageBucket string
	VideoBucket string
}

// NewObjectStore connects a minio client.
func NewObjectStore(cfg ObjectStoreConfig, logger *zap.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return newObjectStore(client, cfg.ImageBucket, cfg.VideoBucket, logger), nil
}

func newObjectStore(client objectRemover, imageBucket, videoBucket string, logger *zap.Logger) *ObjectStore {
	return &ObjectStore{
		client: client,
		buckets: map[ResourceKind]string{
			ResourceImage: imageBucket,
			ResourceVideo: videoBucket,
		},
		logger: logger,
	}
}

func (s *ObjectStore) Owns(ownerID string, item models.Media) bool {
	key, err := objectKey(item.URL, s.buckets[ResourceKindOf(item.Kind)])
	return err == nil && ownedKey(ownerID, key)
}

// Remove issues one batch delete per resource kind.
func (s *ObjectStore) Remove(ctx context.Context, ownerID string, items []models.Media) error {
	var errs []error
	for kind, group := range GroupByResource(items) {
		bucket := s.buckets[kind]
		objects := make(chan minio.ObjectInfo, len(group))
		for _, item := range group {
			key, err := objectKey(item.URL, bucket)
			if err == nil && !ownedKey(ownerID, key) {
				err = fmt.Errorf("%w: %q", ErrNotOwned, item.URL)
			}
			if err != nil {
				errs = append(errs, err)
				observability.IncMediaDeleteError("object")
				continue
			}
			objects <- minio.ObjectInfo{Key: key}
		}
		close(objects)

		for rerr := range s.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
			errs = append(errs, fmt.Errorf("remove %s/%s: %w", bucket, rerr.ObjectName, rerr.Err))
			observability.IncMediaDeleteError("object")
		}
		s.logger.Debug("media batch removed", zap.String("bucket", bucket), zap.Int("count", len(group)))
	}
	return errors.Join(errs...)
}

// objectKey derives the object name from a public URL, dropping the bucket
// segment when the URL is path-style.
func objectKey(rawURL, bucket string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	key = strings.TrimPrefix(key, bucket+"/")
	if key == "" {
		return "", fmt.Errorf("media url %q has no object key", rawURL)
	}
	return key, nil
}

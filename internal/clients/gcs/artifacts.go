package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/clipso/clipso-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/clipso/clipso-backend/internal/pkg/errors"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

// Store is the Artifact Store: content persistence for source videos,
// transcripts, caption tracks, b-roll images, and composed outputs.
// Keys are derived from (job_id, stage), so every operation is safe to
// retry with the same key — rewriting identical content is a no-op.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// URI returns the gs:// form of a ref, for providers that read
	// straight from the bucket (the transcriber does).
	URI(ref string) string
	PublicURL(ref string) string
	Close() error
}

type store struct {
	log       *logger.Logger
	client    *storage.Client
	bucket    string
	cdnDomain string
	opTimeout time.Duration
}

func NewStore(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	bucket := strings.TrimSpace(os.Getenv("ARTIFACT_GCS_BUCKET_NAME"))
	if bucket == "" {
		return nil, fmt.Errorf("missing env var ARTIFACT_GCS_BUCKET_NAME")
	}
	cdn := strings.TrimSpace(os.Getenv("ARTIFACT_CDN_DOMAIN"))

	var opts []option.ClientOption
	if creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &store{
		log:       log.With("service", "ArtifactStore", "bucket", bucket),
		client:    client,
		bucket:    bucket,
		cdnDomain: cdn,
		opTimeout: 2 * time.Minute,
	}, nil
}

func (s *store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key)
	if attrs, err := obj.Attrs(ctx); err == nil {
		// Same key, same bytes: retried stage write, nothing to do.
		if attrs.CRC32C == crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)) {
			s.log.Debug("artifact already present, skipping write", "key", key)
			return key, nil
		}
	}

	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize artifact %s: %w", key, err)
	}
	return key, nil
}

func (s *store) Get(ctx context.Context, ref string) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(ref).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", ref, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	return data, nil
}

func (s *store) Exists(ctx context.Context, key string) (bool, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	return true, nil
}

func (s *store) URI(ref string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, ref)
}

func (s *store) PublicURL(ref string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, ref)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, ref)
}

func (s *store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ArtifactKey builds the canonical (job_id, stage) key.
func ArtifactKey(jobID, stage, ext string) string {
	return fmt.Sprintf("jobs/%s/%s%s", jobID, stage, ext)
}

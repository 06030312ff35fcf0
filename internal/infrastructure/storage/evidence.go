// Package storage keeps learner evidence uploads in Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// Config contains configuration for the evidence store.
type Config struct {
	Bucket string

	// CredentialsFile is a service account JSON path. Empty means
	// application default credentials.
	CredentialsFile string

	// Prefix is prepended to every object name.
	Prefix string

	// UploadTimeout bounds a single upload.
	UploadTimeout time.Duration

	Logger *logger.Logger
}

// EvidenceStore implements activity.EvidenceStore on a GCS bucket.
// Objects are named <prefix>/<enrollment>/<activity>/<uuid><ext> and the
// returned reference is gs://<bucket>/<object>.
type EvidenceStore struct {
	client  *gcs.Client
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *logger.Logger
}

// NewEvidenceStore opens a storage client for cfg.Bucket.
func NewEvidenceStore(ctx context.Context, cfg Config, opts ...option.ClientOption) (*EvidenceStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("evidence store: bucket is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(gcs.ScopeReadWrite))

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("evidence store: new client: %w", err)
	}
	return NewEvidenceStoreFromClient(client, cfg), nil
}

// NewEvidenceStoreFromClient wraps an existing storage client.
func NewEvidenceStoreFromClient(client *gcs.Client, cfg Config) *EvidenceStore {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &EvidenceStore{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: cfg.UploadTimeout,
		logger:  cfg.Logger.Named("evidence_store"),
	}
}

// Store uploads blob and returns its gs:// reference.
func (s *EvidenceStore) Store(ctx context.Context, blob activity.Blob) (string, error) {
	if blob.Content == nil {
		return "", shared.WrapError("evidence", "Store", shared.ErrInvalidInput, "evidence content is empty", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name := ObjectName(s.prefix, blob)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType(blob)
	w.Metadata = map[string]string{
		"enrollment_id": blob.EnrollmentID,
		"activity_key":  blob.ActivityKey,
		"file_name":     blob.FileName,
	}

	n, err := io.Copy(w, blob.Content)
	if err != nil {
		_ = w.Close()
		return "", shared.WrapError("evidence", "Store", shared.ErrEvidenceStoreFailed, "write object", err)
	}
	if err := w.Close(); err != nil {
		return "", shared.WrapError("evidence", "Store", shared.ErrEvidenceStoreFailed, "close object", err)
	}

	ref := fmt.Sprintf("gs://%s/%s", s.bucket, name)
	s.logger.Info("evidence stored",
		logger.EnrollmentID(blob.EnrollmentID),
		logger.ActivityKey(blob.ActivityKey),
		logger.Int64("bytes", n),
		logger.String("ref", ref),
	)
	return ref, nil
}

// Close releases the storage client.
func (s *EvidenceStore) Close() error {
	return s.client.Close()
}

// ObjectName builds the object name for blob under prefix.
func ObjectName(prefix string, blob activity.Blob) string {
	ext := strings.ToLower(path.Ext(blob.FileName))
	parts := []string{
		safeSegment(blob.EnrollmentID),
		safeSegment(blob.ActivityKey),
		uuid.NewString() + ext,
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}

func contentType(blob activity.Blob) string {
	if blob.ContentType != "" {
		return blob.ContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(blob.FileName))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ activity.EvidenceStore = (*EvidenceStore)(nil)

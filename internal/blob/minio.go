// Package blob stores message attachments in an S3-compatible bucket.
// Clients upload directly through presigned URLs; the server only hands out
// URLs and checks that an object exists before a message refers to it.
package blob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/suPer8Hu/chat-sync/internal/common"
)

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	URLTTL    time.Duration
}

type Store struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

type Upload struct {
	Ref       string    `json:"ref"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func New(opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	ttl := opts.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{client: client, bucket: opts.Bucket, ttl: ttl, now: time.Now}, nil
}

// EnsureBucket creates the bucket on first start.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func objectRef(userID, contentType string) (string, error) {
	ext, ok := imageTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", common.Validation("unsupported image type")
	}
	if userID == "" {
		return "", common.Validation("missing user")
	}
	return fmt.Sprintf("uploads/%s/%s%s", userID, uuid.NewString(), ext), nil
}

// OwnedBy reports whether ref was issued to userID by UploadURL.
func OwnedBy(ref, userID string) bool {
	return strings.HasPrefix(ref, "uploads/"+userID+"/")
}

// UploadURL issues a fresh object ref and a presigned PUT for it.
func (s *Store) UploadURL(ctx context.Context, userID, contentType string) (*Upload, error) {
	ref, err := objectRef(userID, contentType)
	if err != nil {
		return nil, err
	}
	u, err := s.client.PresignedPutObject(ctx, s.bucket, ref, s.ttl)
	if err != nil {
		return nil, common.Upload("failed to generate upload url", err)
	}
	return &Upload{Ref: ref, URL: u.String(), ExpiresAt: s.now().Add(s.ttl)}, nil
}

// Stat fails when the object is missing or unreadable.
func (s *Store) Stat(ctx context.Context, ref string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{}); err != nil {
		return fmt.Errorf("stat %s: %w", ref, err)
	}
	return nil
}

// ResolveURL turns a stored ref into a short-lived download URL.
func (s *Store) ResolveURL(ctx context.Context, ref string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ref, s.ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

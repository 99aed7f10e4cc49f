package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/postloom/postloom/internal/config"
	"go.uber.org/zap"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Storage stores generated and uploaded media on S3-compatible object
// storage and hands back publicly reachable URLs for the platform APIs.
type Storage struct {
	client    s3Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
	log       *zap.Logger
}

type StoredObject struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func newS3Client(cfg config.StorageConfig) *s3.Client {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

func NewStorage(cfg config.Config, log *zap.Logger) *Storage {
	client := newS3Client(cfg.Storage)
	return &Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Storage.Bucket,
		publicURL: strings.TrimRight(cfg.Storage.PublicURL, "/"),
		log:       log.Named("media.storage"),
	}
}

// Store writes the object under a per-account key and returns its public URL.
func (s *Storage) Store(ctx context.Context, accountID snowflake.ID, filename string, body io.Reader, size int64) (*StoredObject, error) {
	ext := strings.ToLower(path.Ext(filename))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("%s/%s%s", accountID.String(), uuid.NewString(), ext)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("upload to s3: %w", err)
	}

	s.log.Debug("media stored",
		zap.Int64("account_id", int64(accountID)),
		zap.String("key", key))
	return &StoredObject{Key: key, URL: s.PublicURL(key)}, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for a private bucket. When
// no presigner is wired (tests) it falls back to the public URL.
func (s *Storage) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if s.presigner == nil {
		return s.PublicURL(key), nil
	}
	out, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return out.URL, nil
}

func (s *Storage) PublicURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

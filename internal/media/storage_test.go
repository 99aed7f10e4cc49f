package media

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/postloom/postloom/internal/config"
	"go.uber.org/zap"
)

type s3Stub struct {
	puts    []s3.PutObjectInput
	deletes []string
}

func (s *s3Stub) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.puts = append(s.puts, *input)
	return &s3.PutObjectOutput{}, nil
}

func (s *s3Stub) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	s.deletes = append(s.deletes, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func newTestStorage(stub *s3Stub) *Storage {
	s := NewStorage(config.Config{Storage: config.StorageConfig{
		Bucket:    "postloom-test",
		PublicURL: "https://media.example.com",
	}}, zap.NewNop())
	s.client = stub
	return s
}

func TestStoreKeysByAccount(t *testing.T) {
	stub := &s3Stub{}
	storage := newTestStorage(stub)

	obj, err := storage.Store(context.Background(), 42, "photo.JPG", bytes.NewReader([]byte("img")), 3)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasPrefix(obj.Key, "42/") {
		t.Fatalf("expected account-prefixed key, got %q", obj.Key)
	}
	if !strings.HasSuffix(obj.Key, ".jpg") {
		t.Fatalf("expected lowercased extension, got %q", obj.Key)
	}
	if obj.URL != "https://media.example.com/"+obj.Key {
		t.Fatalf("unexpected public url: %q", obj.URL)
	}

	if len(stub.puts) != 1 {
		t.Fatalf("expected 1 put, got %d", len(stub.puts))
	}
	if ct := *stub.puts[0].ContentType; ct != "image/jpeg" {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestDeleteIgnoresEmptyKey(t *testing.T) {
	stub := &s3Stub{}
	storage := newTestStorage(stub)

	if err := storage.Delete(context.Background(), ""); err != nil {
		t.Fatalf("delete empty key: %v", err)
	}
	if len(stub.deletes) != 0 {
		t.Fatalf("expected no delete calls, got %d", len(stub.deletes))
	}

	if err := storage.Delete(context.Background(), "42/a.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(stub.deletes) != 1 || stub.deletes[0] != "42/a.jpg" {
		t.Fatalf("unexpected deletes: %v", stub.deletes)
	}
}

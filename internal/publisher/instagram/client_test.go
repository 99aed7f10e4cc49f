package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postloom/postloom/internal/config"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/publisher/domain"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.Config{Instagram: config.InstagramConfig{
		AppID:        "app-id",
		AppSecret:    "app-secret",
		GraphBaseURL: server.URL,
	}}, zap.NewNop())
	client.httpClient = server.Client()
	return client, server
}

func testConnection() *connectiondomain.Connection {
	return &connectiondomain.Connection{
		ExternalAccountID: "17890",
		AccessToken:       "token",
	}
}

func TestPublishImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("image_url") == "" {
			http.Error(w, `{"error":{"message":"missing image_url"}}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"id":"container-1"}`)
	})
	mux.HandleFunc("/17890/media_publish", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("creation_id") != "container-1" {
			http.Error(w, `{"error":{"message":"bad creation_id"}}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"id":"media-9"}`)
	})
	client, _ := testClient(t, mux)

	result, err := client.Publish(context.Background(), testConnection(), &contentdomain.Item{
		Kind:     contentdomain.KindImage,
		MediaURL: "https://cdn.example.com/a.jpg",
		Caption:  "hello",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.ExternalMediaID != "media-9" {
		t.Fatalf("unexpected media id: %q", result.ExternalMediaID)
	}
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	var mediaCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		if mediaCalls.Add(1) == 1 {
			http.Error(w, "upstream broke", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"id":"container-1"}`)
	})
	mux.HandleFunc("/17890/media_publish", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"media-9"}`)
	})
	client, _ := testClient(t, mux)

	result, err := client.Publish(context.Background(), testConnection(), &contentdomain.Item{
		Kind:     contentdomain.KindImage,
		MediaURL: "https://cdn.example.com/a.jpg",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.ExternalMediaID != "media-9" {
		t.Fatalf("unexpected media id: %q", result.ExternalMediaID)
	}
	if calls := mediaCalls.Load(); calls != 2 {
		t.Fatalf("expected 2 media calls, got %d", calls)
	}
}

func TestPublishRetriesRateLimits(t *testing.T) {
	var mediaCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		if mediaCalls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"rate limited","code":4}}`, http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"container-1"}`)
	})
	mux.HandleFunc("/17890/media_publish", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"media-9"}`)
	})
	client, _ := testClient(t, mux)

	result, err := client.Publish(context.Background(), testConnection(), &contentdomain.Item{
		Kind:     contentdomain.KindImage,
		MediaURL: "https://cdn.example.com/a.jpg",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.ExternalMediaID != "media-9" {
		t.Fatalf("unexpected media id: %q", result.ExternalMediaID)
	}
	if calls := mediaCalls.Load(); calls != 2 {
		t.Fatalf("expected 2 media calls, got %d", calls)
	}
}

func TestPublishDoesNotRetryRejections(t *testing.T) {
	var mediaCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		mediaCalls.Add(1)
		http.Error(w, `{"error":{"message":"media type not supported","code":9004}}`, http.StatusBadRequest)
	})
	client, _ := testClient(t, mux)

	_, err := client.Publish(context.Background(), testConnection(), &contentdomain.Item{
		Kind:     contentdomain.KindImage,
		MediaURL: "https://cdn.example.com/a.bmp",
	})
	if !errors.Is(err, domain.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if calls := mediaCalls.Load(); calls != 1 {
		t.Fatalf("rejection was retried: %d calls", calls)
	}
}

func TestExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("code") != "auth-code" {
			http.Error(w, `{"error":{"message":"bad code"}}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"access_token":"short","user_id":17890}`)
	})
	mux.HandleFunc("/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "ig_exchange_token" {
			http.Error(w, `{"error":{"message":"bad grant"}}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"access_token":"long-lived","expires_in":5184000}`)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_id":"17890","username":"creator"}`)
	})
	client, _ := testClient(t, mux)

	token, err := client.ExchangeCode(context.Background(), "auth-code", "https://app.example.com/callback")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token.AccessToken != "long-lived" {
		t.Fatalf("expected long-lived token, got %q", token.AccessToken)
	}
	if token.ExternalAccountID != "17890" {
		t.Fatalf("unexpected account id: %q", token.ExternalAccountID)
	}
	if token.ExpiresAt == nil || time.Until(*token.ExpiresAt) < time.Hour {
		t.Fatalf("expected future expiry, got %v", token.ExpiresAt)
	}
}

func TestReplyToComment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/c-123/replies", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("message") != "thanks!" {
			http.Error(w, `{"error":{"message":"missing message"}}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"id":"reply-1"}`)
	})
	client, _ := testClient(t, mux)

	if err := client.ReplyToComment(context.Background(), testConnection(), "c-123", "thanks!"); err != nil {
		t.Fatalf("reply: %v", err)
	}
}

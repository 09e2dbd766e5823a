package x

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"postflow/internal/config"
	"postflow/internal/project"
	"postflow/internal/services"
)

func TestClientPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tweets" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Fatal("expected bearer token")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": "tweet-1"}})
	}))
	defer server.Close()

	client := NewClient(config.Platform{BaseURL: server.URL, AccessToken: "token"})
	id, err := client.Publish(context.Background(), &project.ScheduledPost{Content: "hello"})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if id != "tweet-1" {
		t.Fatalf("unexpected external id %q", id)
	}
}

func TestClientPublishRejectsOversizeContent(t *testing.T) {
	client := NewClient(config.Platform{BaseURL: "http://127.0.0.1:0", AccessToken: "token"})
	post := &project.ScheduledPost{Content: strings.Repeat("x", MaxPostLength+1)}
	_, err := client.Publish(context.Background(), post)
	if err == nil {
		t.Fatal("expected oversize content rejection")
	}
	if services.IsRetryable(err) {
		t.Fatal("expected validation failure to be non-retryable")
	}
}

func TestClientPublishServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(config.Platform{BaseURL: server.URL, AccessToken: "token"})
	_, err := client.Publish(context.Background(), &project.ScheduledPost{Content: "hello"})
	if err == nil {
		t.Fatal("expected publish failure")
	}
	if !services.IsRetryable(err) {
		t.Fatalf("expected server error to be retryable: %v", err)
	}
}

func TestClientValidateCredentialsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(config.Platform{BaseURL: server.URL, AccessToken: "bad"})
	err := client.ValidateCredentials(context.Background())
	if err == nil {
		t.Fatal("expected credential validation failure")
	}
	if services.IsRetryable(err) {
		t.Fatal("expected unauthorized to be non-retryable")
	}
}

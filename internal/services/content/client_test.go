package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"postflow/internal/project"
)

func completionServer(t *testing.T, contentPayload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": contentPayload,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
}

func TestClientCleanTranscript(t *testing.T) {
	server := completionServer(t, `{"cleaned":"Tidy prose."}`)
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	cleaned, err := client.CleanTranscript(context.Background(), "um so like, tidy prose")
	if err != nil {
		t.Fatalf("CleanTranscript returned error: %v", err)
	}
	if cleaned != "Tidy prose." {
		t.Fatalf("unexpected cleaned content: %q", cleaned)
	}
}

func TestClientExtractInsightsCapsAndCodeFence(t *testing.T) {
	body := "```json\n{\"insights\":[" +
		`{"content":"First","urgency":9,"relatability":8,"specificity":7,"authority":6},` +
		`{"content":"Second","urgency":5,"relatability":5,"specificity":5,"authority":5},` +
		`{"content":"Third","urgency":1,"relatability":1,"specificity":1,"authority":1}` +
		"]}\n```"
	server := completionServer(t, body)
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	insights, err := client.ExtractInsights(context.Background(), "cleaned content", 2)
	if err != nil {
		t.Fatalf("ExtractInsights returned error: %v", err)
	}
	if len(insights) != 2 {
		t.Fatalf("expected cap at 2 insights, got %d", len(insights))
	}
	if insights[0].Content != "First" || insights[0].Urgency != 9 {
		t.Fatalf("unexpected first insight: %#v", insights[0])
	}
}

func TestClientGeneratePostUnsupportedPlatform(t *testing.T) {
	client := NewClient(Config{APIKey: "test", BaseURL: "http://127.0.0.1:0", Model: "demo"})
	if _, err := client.GeneratePost(context.Background(), "insight", project.Platform("mastodon")); err == nil {
		t.Fatal("expected unsupported platform error")
	}
}

func TestClientRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{"content": `{"ok":true}`},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo"},
		WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
		WithSleeper(func(time.Duration) {}),
	)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestClientDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"},
		WithSleeper(func(time.Duration) {}),
	)
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single attempt, got %d calls", calls.Load())
	}
}

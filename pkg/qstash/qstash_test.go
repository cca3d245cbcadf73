package qstash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{Token: "t"}); err == nil {
		t.Fatal("NewClient() error = nil, want error")
	}
	if _, err := NewClient(Config{URL: "not a url", Token: "t"}); err == nil {
		t.Fatal("NewClient() error = nil, want parse error")
	}
}

func TestPublishJSON(t *testing.T) {
	t.Parallel()

	var (
		gotPath  string
		gotAuth  string
		gotDedup string
		gotBody  map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDedup = r.Header.Get("Upstash-Deduplication-Id")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"messageId":"msg_123"}`)
	}))
	t.Cleanup(server.Close)

	client := MustNew(Config{URL: server.URL + "/", Token: " token "}).WithHTTPClient(server.Client())
	id, err := client.PublishJSON(context.Background(), "https://hooks.example.com/runs", map[string]any{"state": "committed"}, WithDeduplicationID("run-1"))
	if err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}
	if id != "msg_123" {
		t.Fatalf("PublishJSON() id = %q", id)
	}
	if !strings.HasPrefix(gotPath, "/v2/publish/https:/") {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotDedup != "run-1" {
		t.Fatalf("dedup header = %q", gotDedup)
	}
	if gotBody["state"] != "committed" {
		t.Fatalf("body = %#v", gotBody)
	}
}

func TestPublishJSONSurfacesError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid token"}`)
	}))
	t.Cleanup(server.Close)

	client := MustNew(Config{URL: server.URL, Token: "bad"}).WithHTTPClient(server.Client())
	_, err := client.PublishJSON(context.Background(), "https://hooks.example.com/runs", struct{}{})
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	if _, err := client.PublishJSON(context.Background(), "  ", struct{}{}); err == nil {
		t.Fatal("PublishJSON() with empty destination error = nil")
	}
}

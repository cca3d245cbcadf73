package openrouter

import (
	"context"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ok", cfg: Config{APIKey: "key", Model: "openai/gpt-4o-mini", Temperature: 0.5}},
		{name: "missing key", cfg: Config{Model: "openai/gpt-4o-mini"}, wantErr: true},
		{name: "missing model", cfg: Config{APIKey: "key"}, wantErr: true},
		{name: "temperature too high", cfg: Config{APIKey: "key", Model: "m", Temperature: 2.5}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewChatModel(t *testing.T) {
	t.Parallel()

	cfg := Config{APIKey: "key", Model: "x-ai/grok-4.1-fast", Temperature: 0.2}
	m, err := cfg.NewChatModel(context.Background())
	if err != nil {
		t.Fatalf("NewChatModel() error = %v", err)
	}
	if m == nil {
		t.Fatal("NewChatModel() returned nil model")
	}

	bad := Config{Model: "m"}
	if _, err := bad.NewChatModel(context.Background()); err == nil {
		t.Fatal("NewChatModel() without api key should fail")
	}
}

func TestExcludesReasoning(t *testing.T) {
	t.Parallel()

	if !ExcludesReasoning(" x-ai/grok-4.1-fast ") {
		t.Fatal("grok fast should exclude reasoning")
	}
	if ExcludesReasoning("openai/gpt-4o-mini") {
		t.Fatal("gpt-4o-mini should keep default reasoning settings")
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	if NewClient(Config{}) != nil {
		t.Fatal("NewClient() without api key should return nil")
	}
	if NewClient(Config{APIKey: "key", SiteURL: "https://example.com", SiteName: "coordinator"}) == nil {
		t.Fatal("NewClient() returned nil")
	}
}

package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultCheckpointPrefix = "coordinator:checkpoint:"

	// Upstash rejects larger values; Save refuses them so Load never has to.
	maxCheckpointBytes = 1 << 20
	maxReplyBytes      = maxCheckpointBytes + 4<<10
)

var ErrCheckpointTooLarge = errors.New("checkpoint exceeds the store size limit")

type UpstashRedisConfig struct {
	URL       string        `envconfig:"URL" required:"true"`
	Token     string        `envconfig:"TOKEN" required:"true"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"10s"`
	KeyPrefix string        `envconfig:"KEY_PREFIX" default:"coordinator:checkpoint:"`
	TTL       time.Duration `envconfig:"TTL" default:"168h"`
}

// UpstashSnapshotStore keeps one checkpoint per coordinator in Upstash Redis,
// spoken to over its REST command endpoint.
type UpstashSnapshotStore struct {
	endpoint   string
	token      string
	keyPrefix  string
	ttl        time.Duration
	httpClient *http.Client
}

var _ SnapshotStore = (*UpstashSnapshotStore)(nil)

type StoreOption func(*UpstashSnapshotStore)

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashSnapshotStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func NewUpstashSnapshotStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashSnapshotStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("upstash redis url %q: %w", cfg.URL, err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("checkpoint ttl %s must be >= 0", cfg.TTL)
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultCheckpointPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &UpstashSnapshotStore{
		endpoint:   endpoint,
		token:      token,
		keyPrefix:  prefix,
		ttl:        cfg.TTL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *UpstashSnapshotStore) key(coordinatorID string) (string, error) {
	coordinatorID = strings.TrimSpace(coordinatorID)
	if coordinatorID == "" {
		return "", ErrInvalidCheckpoint
	}
	prefix := s.keyPrefix
	if prefix == "" {
		prefix = defaultCheckpointPrefix
	}
	return prefix + coordinatorID, nil
}

func (s *UpstashSnapshotStore) Load(ctx context.Context, coordinatorID string) (*Checkpoint, error) {
	key, err := s.key(coordinatorID)
	if err != nil {
		return nil, err
	}
	result, err := s.command(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, ErrCheckpointNotFound
	}

	var stored string
	if err := json.Unmarshal(result, &stored); err != nil {
		return nil, fmt.Errorf("decode checkpoint value: %w", err)
	}
	cp := new(Checkpoint)
	if err := json.Unmarshal([]byte(stored), cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", key, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("stored checkpoint %s: %w", key, err)
	}
	return cp, nil
}

// Save overwrites the coordinator's checkpoint.
func (s *UpstashSnapshotStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	key, err := s.key(cp.CoordinatorID)
	if err != nil {
		return err
	}
	if cp.Version <= 0 {
		cp.Version = 1
	}
	if cp.TakenAt.IsZero() {
		cp.TakenAt = time.Now()
	}
	cp.TakenAt = cp.TakenAt.UTC()

	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if len(payload) > maxCheckpointBytes {
		return fmt.Errorf("%w: %d bytes for %s", ErrCheckpointTooLarge, len(payload), key)
	}

	args := []string{"SET", key, string(payload)}
	if s.ttl > 0 {
		seconds := int64((s.ttl + time.Second - 1) / time.Second)
		args = append(args, "EX", strconv.FormatInt(seconds, 10))
	}
	_, err = s.command(ctx, args...)
	return err
}

// command runs one Redis command and returns its raw JSON result.
func (s *UpstashSnapshotStore) command(ctx context.Context, args ...string) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redis %s: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis reply: %w", err)
	}

	var reply struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("redis %s: http status %d", args[0], resp.StatusCode)
		}
		return nil, fmt.Errorf("decode redis reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("redis %s: %s", args[0], reply.Error)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis %s: http status %d", args[0], resp.StatusCode)
	}
	return bytes.TrimSpace(reply.Result), nil
}

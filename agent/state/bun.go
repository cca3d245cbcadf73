package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type DatabaseConfig struct {
	DSN     string        `envconfig:"DSN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type decisionRow struct {
	bun.BaseModel `bun:"table:coordinator_decisions,alias:d"`

	ID                string    `bun:"id,pk"`
	ConversationID    string    `bun:"conversation_id,notnull"`
	CustomerID        string    `bun:"customer_id"`
	UnitID            string    `bun:"unit_id,notnull"`
	Response          string    `bun:"response"`
	Confidence        float64   `bun:"confidence"`
	NextAction        string    `bun:"next_action"`
	Fallback          bool      `bun:"fallback,notnull"`
	Category          string    `bun:"category"`
	Tags              []string  `bun:"tags,array"`
	ParametersVersion int64     `bun:"parameters_version"`
	Attempts          []string  `bun:"attempts,array"`
	DecidedAt         time.Time `bun:"decided_at,notnull"`
}

type outcomeRow struct {
	bun.BaseModel `bun:"table:coordinator_outcomes,alias:o"`

	ID         int64     `bun:"id,pk,autoincrement"`
	DecisionID string    `bun:"decision_id,notnull"`
	UnitID     string    `bun:"unit_id,notnull"`
	Resolution string    `bun:"resolution,notnull"`
	Feedback   *float64  `bun:"feedback"`
	ObservedAt time.Time `bun:"observed_at,notnull"`
}

type runRow struct {
	bun.BaseModel `bun:"table:coordinator_optimization_runs,alias:r"`

	ID         string                        `bun:"id,pk"`
	Trigger    string                        `bun:"trigger,notnull"`
	State      string                        `bun:"state,notnull"`
	Reason     string                        `bun:"reason"`
	StartedAt  time.Time                     `bun:"started_at,notnull"`
	FinishedAt time.Time                     `bun:"finished_at,notnull"`
	Prior      *contractx.RouterParameters   `bun:"prior,type:jsonb"`
	Next       *contractx.RouterParameters   `bun:"next,type:jsonb"`
	Summary    contractx.OptimizationSummary `bun:"summary,type:jsonb"`
}

type resetRow struct {
	bun.BaseModel `bun:"table:coordinator_memory_resets,alias:m"`

	ID                 string    `bun:"id,pk"`
	Kind               string    `bun:"kind,notnull"`
	Key                string    `bun:"key"`
	At                 time.Time `bun:"at,notnull"`
	CustomersRemoved   int       `bun:"customers_removed"`
	CategoryCountsLost int64     `bun:"category_counts_lost"`
	TagCountsLost      int64     `bun:"tag_counts_lost"`
}

// BunAuditStore writes the audit log to Postgres through bun.
type BunAuditStore struct {
	db *bun.DB
}

var _ AuditStore = (*BunAuditStore)(nil)

func NewBunAuditStore(ctx context.Context, cfg DatabaseConfig) (*BunAuditStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithTimeout(timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewBunAuditStoreWithDB(db)
	if err := store.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewBunAuditStoreWithDB(db *bun.DB) *BunAuditStore {
	return &BunAuditStore{db: db}
}

// CreateSchema creates the audit tables when they do not exist.
func (s *BunAuditStore) CreateSchema(ctx context.Context) error {
	models := []any{
		(*decisionRow)(nil),
		(*outcomeRow)(nil),
		(*runRow)(nil),
		(*resetRow)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create audit table: %w", err)
		}
	}
	if _, err := s.outcomeIndexQuery().Exec(ctx); err != nil {
		return fmt.Errorf("create outcome index: %w", err)
	}
	return nil
}

// One outcome row per decision; it is what makes observe idempotent across restarts.
func (s *BunAuditStore) outcomeIndexQuery() *bun.CreateIndexQuery {
	return s.db.NewCreateIndex().
		Model((*outcomeRow)(nil)).
		Index("coordinator_outcomes_decision_id_key").
		Unique().
		IfNotExists().
		Column("decision_id")
}

func (s *BunAuditStore) SaveDecision(ctx context.Context, rec contractx.DecisionRecord) error {
	row := toDecisionRow(rec)
	if _, err := s.db.NewInsert().Model(&row).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *BunAuditStore) SaveOutcome(ctx context.Context, entry OutcomeEntry) error {
	row := outcomeRow{
		DecisionID: entry.DecisionID,
		UnitID:     string(entry.UnitID),
		Resolution: string(entry.Resolution),
		Feedback:   entry.Feedback,
		ObservedAt: entry.ObservedAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(&row).On("CONFLICT (decision_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *BunAuditStore) OutcomeApplied(ctx context.Context, decisionID string) (bool, error) {
	exists, err := s.db.NewSelect().Model((*outcomeRow)(nil)).Where("o.decision_id = ?", decisionID).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("select outcome: %w", err)
	}
	return exists, nil
}

func (s *BunAuditStore) SaveRun(ctx context.Context, run contractx.OptimizationRun) error {
	row := runRow{
		ID:         run.ID,
		Trigger:    string(run.Trigger),
		State:      string(run.State),
		Reason:     run.Reason,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		Prior:      run.Prior,
		Next:       run.Next,
		Summary:    run.Summary,
	}
	if _, err := s.db.NewInsert().Model(&row).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert optimization run: %w", err)
	}
	return nil
}

func (s *BunAuditStore) SaveReset(ctx context.Context, rec contractx.ResetRecord) error {
	row := resetRow{
		ID:                 rec.ID,
		Kind:               string(rec.Scope.Kind),
		Key:                rec.Scope.Key,
		At:                 rec.At.UTC(),
		CustomersRemoved:   rec.CustomersRemoved,
		CategoryCountsLost: int64(rec.CategoryCountsLost),
		TagCountsLost:      int64(rec.TagCountsLost),
	}
	if _, err := s.db.NewInsert().Model(&row).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert memory reset: %w", err)
	}
	return nil
}

func (s *BunAuditStore) Decision(ctx context.Context, decisionID string) (contractx.DecisionRecord, error) {
	row := new(decisionRow)
	err := s.db.NewSelect().Model(row).Where("d.id = ?", decisionID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contractx.DecisionRecord{}, ErrDecisionNotFound
		}
		return contractx.DecisionRecord{}, fmt.Errorf("select decision: %w", err)
	}
	return fromDecisionRow(*row), nil
}

func (s *BunAuditStore) Close() error {
	return s.db.Close()
}

func toDecisionRow(rec contractx.DecisionRecord) decisionRow {
	attempts := make([]string, len(rec.Attempts))
	for i, id := range rec.Attempts {
		attempts[i] = string(id)
	}
	return decisionRow{
		ID:                rec.ID,
		ConversationID:    rec.ConversationID,
		CustomerID:        rec.CustomerID,
		UnitID:            string(rec.UnitID),
		Response:          rec.Response,
		Confidence:        rec.Confidence,
		NextAction:        rec.NextAction,
		Fallback:          rec.Fallback,
		Category:          rec.Category,
		Tags:              rec.Tags,
		ParametersVersion: int64(rec.ParametersVersion),
		Attempts:          attempts,
		DecidedAt:         rec.DecidedAt.UTC(),
	}
}

func fromDecisionRow(row decisionRow) contractx.DecisionRecord {
	var attempts []contractx.UnitID
	for _, id := range row.Attempts {
		attempts = append(attempts, contractx.UnitID(id))
	}
	return contractx.DecisionRecord{
		ID:                row.ID,
		ConversationID:    row.ConversationID,
		CustomerID:        row.CustomerID,
		UnitID:            contractx.UnitID(row.UnitID),
		Response:          row.Response,
		Confidence:        row.Confidence,
		NextAction:        row.NextAction,
		Fallback:          row.Fallback,
		Category:          row.Category,
		Tags:              row.Tags,
		ParametersVersion: uint64(row.ParametersVersion),
		Attempts:          attempts,
		DecidedAt:         row.DecidedAt,
	}
}

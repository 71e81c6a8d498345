package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/MRN-Code/multishot/protocol"
)

// RunStore persists accepted-round history keyed by run ID.
type RunStore interface {
	SaveRound(ctx context.Context, runID string, iteration int, entry protocol.HistoryEntry) error
	LoadRounds(ctx context.Context, runID string) ([]protocol.HistoryEntry, error)
	Close() error
}

// PostgresStore implements RunStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS regression_rounds (
		run_id VARCHAR(64) NOT NULL,
		iteration INT NOT NULL,
		gradient JSONB NOT NULL,
		m_vals JSONB NOT NULL,
		objective DOUBLE PRECISION NOT NULL,
		r2 DOUBLE PRECISION NOT NULL,
		learning_rate DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (run_id, iteration)
	);

	CREATE INDEX IF NOT EXISTS idx_rounds_run ON regression_rounds(run_id);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRound persists one accepted round's snapshot.
func (s *PostgresStore) SaveRound(ctx context.Context, runID string, iteration int, entry protocol.HistoryEntry) error {
	gradient, err := json.Marshal(entry.Gradient)
	if err != nil {
		return err
	}
	mVals, err := json.Marshal(entry.MVals)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO regression_rounds
		(run_id, iteration, gradient, m_vals, objective, r2, learning_rate)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (run_id, iteration) DO UPDATE SET
		gradient = EXCLUDED.gradient,
		m_vals = EXCLUDED.m_vals,
		objective = EXCLUDED.objective,
		r2 = EXCLUDED.r2,
		learning_rate = EXCLUDED.learning_rate
	`

	_, err = s.db.ExecContext(ctx, query,
		runID, iteration, gradient, mVals, entry.Objective, entry.R2, entry.LearningRate)
	return err
}

// LoadRounds retrieves a run's snapshots in iteration order.
func (s *PostgresStore) LoadRounds(ctx context.Context, runID string) ([]protocol.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gradient, m_vals, objective, r2, learning_rate
		FROM regression_rounds
		WHERE run_id = $1
		ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []protocol.HistoryEntry
	for rows.Next() {
		var (
			gradient []byte
			mVals    []byte
			entry    protocol.HistoryEntry
		)
		if err := rows.Scan(&gradient, &mVals, &entry.Objective, &entry.R2, &entry.LearningRate); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal(gradient, &entry.Gradient); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(mVals, &entry.MVals); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements RunStore for testing without a database.
type InMemoryStore struct {
	mu     sync.Mutex
	rounds map[string]map[int]protocol.HistoryEntry
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rounds: make(map[string]map[int]protocol.HistoryEntry),
	}
}

// SaveRound stores one round snapshot in memory.
func (s *InMemoryStore) SaveRound(_ context.Context, runID string, iteration int, entry protocol.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rounds[runID] == nil {
		s.rounds[runID] = make(map[int]protocol.HistoryEntry)
	}
	s.rounds[runID][iteration] = entry
	return nil
}

// LoadRounds returns a run's snapshots in iteration order.
func (s *InMemoryStore) LoadRounds(_ context.Context, runID string) ([]protocol.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIteration := s.rounds[runID]
	iterations := make([]int, 0, len(byIteration))
	for i := range byIteration {
		iterations = append(iterations, i)
	}
	sort.Ints(iterations)

	entries := make([]protocol.HistoryEntry, 0, len(iterations))
	for _, i := range iterations {
		entries = append(entries, byIteration[i])
	}
	return entries, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// Package store keeps an audit record of every completed validation session.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/session"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout has a fixed width so created_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no session matches
var ErrNotFound = errors.New("session not found")

// Record is one stored session
type Record struct {
	SessionID        string                  `json:"sessionId"`
	ClaimID          string                  `json:"claimId"`
	ClaimNumber      string                  `json:"claimNumber,omitempty"`
	OverallStatus    model.OverallStatus     `json:"overallStatus"`
	Confidence       float64                 `json:"confidence"`
	TimedOut         bool                    `json:"timedOut"`
	ProcessingTimeMs int64                   `json:"processingTime"`
	CreatedAt        time.Time               `json:"createdAt"`
	Result           *model.ValidationResult `json:"result"`
	Trail            []session.AuditEntry    `json:"trail"`
}

// Store writes and reads session records over database/sql
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver and creates the schema
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, model.NewConfigError("store.driver", fmt.Errorf("unknown driver %q", driver))
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; concurrent sessions queue on the pool
		db.SetMaxOpenConns(1)
	}

	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Migrate creates the sessions table if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		claim_id TEXT NOT NULL,
		claim_number TEXT NOT NULL DEFAULT '',
		overall_status TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		timed_out BOOLEAN NOT NULL,
		processing_ms BIGINT NOT NULL,
		created_at TEXT NOT NULL,
		result TEXT NOT NULL,
		trail TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS sessions_claim_id ON sessions (claim_id, created_at)`); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	return nil
}

// Record stores a completed session. It satisfies session.Recorder.
func (s *Store) Record(ctx context.Context, sess *session.Session, vr *model.ValidationResult) error {
	result, err := json.Marshal(vr)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	trail, err := json.Marshal(sess.Trail())
	if err != nil {
		return fmt.Errorf("marshal trail: %w", err)
	}

	query := s.rebind(`INSERT INTO sessions (
		session_id, claim_id, claim_number, overall_status, confidence, timed_out, processing_ms, created_at, result, trail
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.ClaimID, sess.ClaimNumber, string(vr.OverallStatus), vr.Confidence, vr.TimedOut,
		vr.ProcessingTimeMs, sess.CreatedAt.UTC().Format(timeLayout), string(result), string(trail),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const selectColumns = `SELECT session_id, claim_id, claim_number, overall_status, confidence, timed_out, processing_ms, created_at, result, trail FROM sessions`

// Get returns the session with id
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE session_id = ?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListByClaim returns the newest sessions for claimID, at most limit
func (s *Store) ListByClaim(ctx context.Context, claimID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(selectColumns+` WHERE claim_id = ? ORDER BY created_at DESC LIMIT ?`), claimID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r         Record
		status    string
		createdAt string
		result    string
		trail     string
	)
	if err := row.Scan(&r.SessionID, &r.ClaimID, &r.ClaimNumber, &status, &r.Confidence, &r.TimedOut,
		&r.ProcessingTimeMs, &createdAt, &result, &trail); err != nil {
		return nil, err
	}
	r.OverallStatus = model.OverallStatus(status)

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	r.CreatedAt = t

	r.Result = &model.ValidationResult{}
	if err := json.Unmarshal([]byte(result), r.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if err := json.Unmarshal([]byte(trail), &r.Trail); err != nil {
		return nil, fmt.Errorf("decode trail: %w", err)
	}
	return &r, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

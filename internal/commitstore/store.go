package commitstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const commitColumns = `id, batch_id, repository, repository_url, file_path, commit_message, scheduled_at,
	status, error_message, failure_kind, hash_id, created_at, updated_at, processed_at`

// Store provides durable persistence for backfill commit records
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a SQLite-backed Store with the given database path
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open creates a Store for the given driver ("sqlite" or "postgres") and DSN
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// One connection: ":memory:" databases are per-connection and
		// SQLite serializes writers anyway.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the clock used for created/updated timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// NewRecord holds the caller-supplied fields of a commit record
type NewRecord struct {
	BatchID       string
	Repository    string
	RepositoryURL string
	FilePath      string
	CommitMessage string
	ScheduledAt   time.Time
}

// Create inserts a new pending record
func (s *Store) Create(ctx context.Context, in NewRecord) (*domain.CommitRecord, error) {
	if in.Repository == "" || in.RepositoryURL == "" || in.FilePath == "" || in.CommitMessage == "" {
		return nil, errors.New("repository, repository URL, file path and commit message are required")
	}
	if in.ScheduledAt.IsZero() {
		return nil, errors.New("scheduled time is required")
	}

	now := s.now()
	rec := &domain.CommitRecord{
		ID:            uuid.NewString(),
		BatchID:       in.BatchID,
		Repository:    in.Repository,
		RepositoryURL: in.RepositoryURL,
		FilePath:      in.FilePath,
		CommitMessage: in.CommitMessage,
		ScheduledAt:   in.ScheduledAt.Truncate(time.Second),
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO commits (`+commitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		rec.ID,
		rec.BatchID,
		rec.Repository,
		rec.RepositoryURL,
		rec.FilePath,
		rec.CommitMessage,
		rec.ScheduledAt.UnixNano(),
		string(rec.Status),
		"",
		"",
		"",
		rec.CreatedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting commit: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by ID
func (s *Store) Get(ctx context.Context, id string) (*domain.CommitRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+commitColumns+` FROM commits WHERE id = ?`), id)
	rec, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return rec, err
}

// ListOptions specifies filters for listing records
type ListOptions struct {
	Limit      int
	Status     domain.CommitStatus
	Repository string
	BatchID    string
}

// List returns records matching opts, most recently created first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*domain.CommitRecord, error) {
	query := `SELECT ` + commitColumns + ` FROM commits WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Repository != "" {
		query += " AND repository = ?"
		args = append(args, opts.Repository)
	}
	if opts.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, opts.BatchID)
	}

	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(opts.Limit)
	}

	return s.query(ctx, query, args...)
}

// ListPending returns every pending record ordered by scheduled time
func (s *Store) ListPending(ctx context.Context) ([]*domain.CommitRecord, error) {
	return s.query(ctx, `SELECT `+commitColumns+` FROM commits WHERE status = ? ORDER BY scheduled_at, created_at`,
		string(domain.StatusPending))
}

// CountByStatus returns the number of records per status
func (s *Store) CountByStatus(ctx context.Context) (map[domain.CommitStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM commits GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.CommitStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.CommitStatus(status)] = n
	}
	return counts, rows.Err()
}

// SetCompleted moves a pending record to completed with the resulting commit hash
func (s *Store) SetCompleted(ctx context.Context, id, hashID string) error {
	return s.transition(ctx, id, domain.StatusPending, domain.StatusCompleted,
		`UPDATE commits SET status = ?, hash_id = ?, error_message = '', failure_kind = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusCompleted), hashID, s.now().UnixNano(), id, string(domain.StatusPending))
}

// SetFailed moves a pending record to failed with a human-readable reason
func (s *Store) SetFailed(ctx context.Context, id, message string, kind domain.FailureKind) error {
	if kind == "" {
		kind = domain.FailureUnknown
	}
	return s.transition(ctx, id, domain.StatusPending, domain.StatusFailed,
		`UPDATE commits SET status = ?, error_message = ?, failure_kind = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusFailed), message, string(kind), s.now().UnixNano(), id, string(domain.StatusPending))
}

// Retry moves a failed record back to pending and clears its error
func (s *Store) Retry(ctx context.Context, id string) (*domain.CommitRecord, error) {
	err := s.transition(ctx, id, domain.StatusFailed, domain.StatusPending,
		`UPDATE commits SET status = ?, error_message = '', failure_kind = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusPending), s.now().UnixNano(), id, string(domain.StatusFailed))
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Cancel deletes a pending record
func (s *Store) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM commits WHERE id = ? AND status = ?`),
		id, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("cancelling %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &domain.TransitionError{ID: id, From: current.Status, Op: "cancel"}
}

// MarkProcessing stamps the dispatch time of a pending record
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE commits SET processed_at = ? WHERE id = ? AND status = ?`),
		s.now().UnixNano(), id, string(domain.StatusPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// transition applies a compare-and-set update; when no row changed it
// reports NotFound or the conflicting status.
func (s *Store) transition(ctx context.Context, id string, from, to domain.CommitStatus, query string, args ...interface{}) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &domain.TransitionError{ID: id, From: current.Status, To: to}
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*domain.CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.CommitRecord
	for rows.Next() {
		rec, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rebind converts ? placeholders to $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCommit(row scanner) (*domain.CommitRecord, error) {
	var rec domain.CommitRecord
	var status, failureKind string
	var scheduledAt, createdAt, updatedAt int64
	var processedAt sql.NullInt64

	err := row.Scan(
		&rec.ID,
		&rec.BatchID,
		&rec.Repository,
		&rec.RepositoryURL,
		&rec.FilePath,
		&rec.CommitMessage,
		&scheduledAt,
		&status,
		&rec.ErrorMessage,
		&failureKind,
		&rec.HashID,
		&createdAt,
		&updatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.CommitStatus(status)
	rec.FailureKind = domain.FailureKind(failureKind)
	rec.ScheduledAt = time.Unix(0, scheduledAt)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	if processedAt.Valid {
		t := time.Unix(0, processedAt.Int64)
		rec.ProcessedAt = &t
	}

	return &rec, nil
}

package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for users, threads, turns,
// documents, and the ingest job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "finch.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Users ---

func (s *Store) CreateUser(email, passwordHash string) (User, error) {
	u := User{
		ID:           shortuuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("user %s: %w", email, ErrAlreadyExists)
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(id string) (User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return u, nil
}

// --- Threads ---

func (s *Store) CreateThread(ownerID string) (Thread, error) {
	t := Thread{
		ID:        shortuuid.New(),
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO threads (id, owner_id, created_at) VALUES (?, ?, ?)`,
		t.ID, t.OwnerID, t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Thread{}, err
	}
	return t, nil
}

// GetThread returns the thread only if it is owned by ownerID. A thread
// owned by someone else yields ErrAccessDenied, not ErrNotFound, so
// callers can distinguish the two.
func (s *Store) GetThread(id, ownerID string) (Thread, error) {
	var t Thread
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, owner_id, created_at FROM threads WHERE id = ?`, id,
	).Scan(&t.ID, &t.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	if t.OwnerID != ownerID {
		return Thread{}, ErrAccessDenied
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Thread{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// ListThreads returns the owner's threads, newest first, each with its
// first query and turn count.
func (s *Store) ListThreads(ownerID string) ([]ThreadSummary, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.owner_id, t.created_at,
			COALESCE((SELECT query FROM turns WHERE thread_id = t.id ORDER BY created_at ASC, rowid ASC LIMIT 1), ''),
			(SELECT COUNT(*) FROM turns WHERE thread_id = t.id)
		FROM threads t WHERE t.owner_id = ?
		ORDER BY t.created_at DESC, t.rowid DESC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreadSummaries(rows)
}

// RecentThreads returns the newest threads across all users, used by
// the MCP recent-threads resource.
func (s *Store) RecentThreads(limit int) ([]ThreadSummary, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.owner_id, t.created_at,
			COALESCE((SELECT query FROM turns WHERE thread_id = t.id ORDER BY created_at ASC, rowid ASC LIMIT 1), ''),
			(SELECT COUNT(*) FROM turns WHERE thread_id = t.id)
		FROM threads t
		ORDER BY t.created_at DESC, t.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreadSummaries(rows)
}

func scanThreadSummaries(rows *sql.Rows) ([]ThreadSummary, error) {
	var results []ThreadSummary
	for rows.Next() {
		var ts ThreadSummary
		var createdAt string
		if err := rows.Scan(&ts.ID, &ts.OwnerID, &createdAt, &ts.FirstQuery, &ts.TurnCount); err != nil {
			return nil, err
		}
		var err error
		if ts.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, ts)
	}
	return results, rows.Err()
}

// --- Turns ---

// CreateTurn stores a draft turn with an empty response. The response
// is written later by UpdateTurnResponse when the stream finalizes.
func (s *Store) CreateTurn(threadID, query string) (Turn, error) {
	t := Turn{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (id, thread_id, query, response, created_at) VALUES (?, ?, ?, '', ?)`,
		t.ID, t.ThreadID, t.Query, t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Turn{}, err
	}
	return t, nil
}

func (s *Store) UpdateTurnResponse(turnID, response string) error {
	res, err := s.db.Exec(`UPDATE turns SET response = ? WHERE id = ?`, response, turnID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentTurns returns the thread's last limit turns in chronological order.
func (s *Store) RecentTurns(threadID string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, thread_id, query, response, created_at FROM turns
		WHERE thread_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		threadID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListTurns returns all turns of a thread in chronological order.
func (s *Store) ListTurns(threadID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, thread_id, query, response, created_at FROM turns
		WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC`, threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.Query, &t.Response, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Documents ---

func (s *Store) CreateDocument(ownerID, fileName, url string) (Document, error) {
	d := Document{
		ID:        shortuuid.New(),
		OwnerID:   ownerID,
		FileName:  fileName,
		URL:       url,
		Status:    "processing",
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, owner_id, file_name, url, status, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, '', ?)`,
		d.ID, d.OwnerID, d.FileName, d.URL, d.Status, d.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *Store) GetDocument(id, ownerID string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, owner_id, file_name, url, status, last_error, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.OwnerID, &d.FileName, &d.URL, &d.Status, &d.LastError, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.OwnerID != ownerID {
		return Document{}, ErrAccessDenied
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return d, nil
}

func (s *Store) ListDocuments(ownerID string) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, file_name, url, status, last_error, created_at
		FROM documents WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.FileName, &d.URL, &d.Status, &d.LastError, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// UpdateDocumentStatus records the outcome of an ingest attempt.
func (s *Store) UpdateDocumentStatus(id, status, lastError string) error {
	res, err := s.db.Exec(`UPDATE documents SET status = ?, last_error = ? WHERE id = ?`,
		status, lastError, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(id, ownerID string) error {
	if _, err := s.GetDocument(id, ownerID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	return err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

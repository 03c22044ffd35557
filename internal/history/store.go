package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const DefaultLimit = 20

var ErrNotFound = errors.New("history entry not found")

// Entry is one finished transcription. ErrorKind is empty on success.
type Entry struct {
	ID        string
	CreatedAt time.Time
	AudioPath string
	Model     string
	Language  string
	Text      string
	ErrorKind string
	Elapsed   time.Duration
}

// Store is the SQLite transcript journal.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		audio_path TEXT NOT NULL,
		model TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at DESC);
	`)
	return err
}

// Append stores e, filling in ID and CreatedAt when unset.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, created_at, audio_path, model, language, text, error_kind, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CreatedAt, e.AudioPath, e.Model, e.Language, e.Text, e.ErrorKind, e.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, audio_path, model, language, text, error_kind, elapsed_ms
		FROM transcripts
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, audio_path, model, language, text, error_kind, elapsed_ms
		FROM transcripts WHERE id = ?
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e         Entry
		elapsedMS int64
	)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.AudioPath, &e.Model, &e.Language, &e.Text, &e.ErrorKind, &elapsedMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return e, nil
}

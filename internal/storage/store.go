// Package storage owns the knowledge-base database: schema, transactions and
// every write. Other packages read through Reader and write through Store methods.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// Querier is the read-only view of the database handed to search collaborators.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the single writer of the knowledge base. Writes are serialized
// through wmu; reads run concurrently against the last committed snapshot.
type Store struct {
	db        *sql.DB
	path      string
	backupDir string
	log       logger.Logger
	newID     func() string
	now       func() time.Time

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Option customises Open.
type Option func(*Store)

// WithLogger sets the logger. Default: logger.Nop().
func WithLogger(l logger.Logger) Option { return func(s *Store) { s.log = l } }

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// WithClock replaces time.Now for every persisted timestamp.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithBackupDir sets where BackupDatabase writes when no path is given.
// Default: a "backups" directory next to the database file.
func WithBackupDir(dir string) Option { return func(s *Store) { s.backupDir = dir } }

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+dsnPragmas)
	if err != nil {
		return nil, &models.StorageError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &models.StorageError{Op: "ping", Err: err}
	}

	s := &Store{
		db:        db,
		path:      path,
		backupDir: filepath.Join(filepath.Dir(path), "backups"),
		log:       logger.Nop(),
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "storage")

	if err := s.Initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("knowledge base opened", "path", path)
	return s, nil
}

// Initialize creates every table, index and trigger that is missing. It is
// safe to call on an already-initialized database.
func (s *Store) Initialize(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return &models.StorageError{Op: "create schema", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, Triggers); err != nil {
		return &models.StorageError{Op: "create triggers", Err: err}
	}
	return nil
}

// Close releases the database handle. Calls after the first return the
// first call's result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.wmu.Lock()
		defer s.wmu.Unlock()
		s.closeErr = s.db.Close()
		s.log.Info("knowledge base closed", "path", s.path)
	})
	return s.closeErr
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Reader exposes the handle for read-only queries.
func (s *Store) Reader() Querier {
	return s.db
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// BackupDatabase writes a consistent point-in-time copy of the database to
// path, or to a timestamped file in the backup directory when path is empty.
// It waits for any in-flight write to finish.
func (s *Store) BackupDatabase(ctx context.Context, path string) (string, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if path == "" {
		base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
		name := fmt.Sprintf("%s_backup_%s.db", base, s.now().UTC().Format("20060102_150405"))
		path = filepath.Join(s.backupDir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &models.StorageError{Op: "backup", Err: err}
	}
	if _, err := os.Stat(path); err == nil {
		return "", &models.StorageError{Op: "backup", Err: fmt.Errorf("%s already exists", path)}
	}

	// VACUUM INTO produces a consistent snapshot of the whole database.
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`VACUUM INTO '%s'`, escapeSQLString(path))); err != nil {
		return "", &models.StorageError{Op: "backup", Err: err}
	}
	s.log.Info("backup written", "path", path)
	return path, nil
}

// withTx runs fn inside one write transaction under the writer lock. Any
// error rolls the transaction back; untyped errors surface as StorageError.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StorageError{Op: op, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		s.log.Warn("transaction rolled back", "op", op, "error", err)
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func classify(op string, err error) error {
	var verr *models.ValidationError
	var serr *models.StorageError
	switch {
	case errors.As(err, &verr), errors.As(err, &serr), errors.Is(err, models.ErrNotFound):
		return err
	default:
		return &models.StorageError{Op: op, Err: err}
	}
}

func (s *Store) timestamp() string {
	return models.FormatTime(s.now())
}

func escapeSQLString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func encodeTags(tags []string) (string, error) {
	norm := models.NormalizeTags(tags)
	b, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func encodeMetadata(md map[string]any) (string, error) {
	if md == nil {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags %q: %w", raw, err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	md := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("decode metadata %q: %w", raw, err)
	}
	if md == nil {
		md = map[string]any{}
	}
	return md, nil
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

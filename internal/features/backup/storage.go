package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/config"

	_ "github.com/lib/pq"
)

// Storage is where backup payloads live. Backup files are exclusively
// owned by this package; nothing else writes to them.
type Storage interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewStorage picks the backend from configuration.
func NewStorage(cfg *config.Config) (Storage, error) {
	switch cfg.BackupStorage {
	case "", "fs":
		return NewFSStorage(cfg.BackupDir)
	case "postgres":
		return NewPostgresStorage(cfg.BackupPostgresDSN)
	}
	return nil, apperrors.Newf(apperrors.CodeValidation, "unknown backup storage %q", cfg.BackupStorage)
}

type FSStorage struct {
	dir string
}

func NewFSStorage(dir string) (*FSStorage, error) {
	if dir == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FSStorage{dir: dir}, nil
}

func (s *FSStorage) path(key string) string {
	// Keys are backup ids we generate; Base guards against traversal anyway
	return filepath.Join(s.dir, filepath.Base(key))
}

func (s *FSStorage) Write(ctx context.Context, key string, data []byte) error {
	return os.WriteFile(s.path(key), data, 0o600)
}

func (s *FSStorage) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "backup payload %s not found", key)
	}
	return data, err
}

func (s *FSStorage) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

const postgresBackupTable = "crmsync_backups"

type PostgresStorage struct {
	dsn string

	initOnce stdsync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "postgres backup storage requires a DSN")
	}
	return &PostgresStorage{dsn: dsn}, nil
}

func (s *PostgresStorage) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, postgresBackupTable)
		if _, err := db.ExecContext(ctx, schema); err != nil {
			s.initErr = err
			db.Close()
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStorage) Write(ctx context.Context, key string, data []byte) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, postgresBackupTable)
	_, err := s.db.ExecContext(ctx, query, key, data)
	return err
}

func (s *PostgresStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	var data []byte
	query := fmt.Sprintf("SELECT data FROM %s WHERE key = $1", postgresBackupTable)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "backup payload %s not found", key)
	}
	return data, err
}

func (s *PostgresStorage) Delete(ctx context.Context, key string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", postgresBackupTable)
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

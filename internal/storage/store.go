package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	FirstName    string
	LastName     string
	BirthDate    string
	Phone        string
	Email        string
	CreatedAt    time.Time
}

// Upload captures metadata for a stored file.
type Upload struct {
	ID         string
	StoredName string
	Filename   string
	SizeBytes  int64
	SHA256     string
	UploadedBy string
	UploadedAt time.Time
}

// ErrUserExists is returned when attempting to insert a duplicate username.
var ErrUserExists = errors.New("user already exists")

// ErrEmailExists is returned when attempting to insert a duplicate email.
var ErrEmailExists = errors.New("email already exists")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "wavechat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			birth_date TEXT NOT NULL,
			phone TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS uploads (
			id TEXT PRIMARY KEY,
			stored_name TEXT NOT NULL UNIQUE,
			filename TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists or ErrEmailExists is returned
// on the corresponding unique-constraint conflict.
func (s *Store) CreateUser(ctx context.Context, user User) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password_hash, first_name, last_name, birth_date, phone, email)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.PasswordHash, user.FirstName, user.LastName, user.BirthDate, user.Phone, user.Email)
	if err != nil {
		if isConstraintError(err) {
			if strings.Contains(err.Error(), "email") {
				return 0, ErrEmailExists
			}
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername fetches a user by username. A missing user is (nil, nil).
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, first_name, last_name, birth_date, phone, email, created_at
		 FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByEmail fetches a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, first_name, last_name, birth_date, phone, email, created_at
		 FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.FirstName,
		&user.LastName, &user.BirthDate, &user.Phone, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateUpload records metadata for a stored file.
func (s *Store) CreateUpload(ctx context.Context, upload Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads(id, stored_name, filename, size_bytes, sha256, uploaded_by, uploaded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		upload.ID, upload.StoredName, upload.Filename, upload.SizeBytes, upload.SHA256,
		upload.UploadedBy, upload.UploadedAt.UTC())
	return err
}

// GetUploadByStoredName fetches upload metadata by the on-disk file name.
func (s *Store) GetUploadByStoredName(ctx context.Context, storedName string) (*Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stored_name, filename, size_bytes, sha256, uploaded_by, uploaded_at
		 FROM uploads WHERE stored_name = ?`, storedName)
	var upload Upload
	err := row.Scan(&upload.ID, &upload.StoredName, &upload.Filename, &upload.SizeBytes,
		&upload.SHA256, &upload.UploadedBy, &upload.UploadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &upload, nil
}

// ListUploadsBy returns all uploads recorded for a username, newest first.
func (s *Store) ListUploadsBy(ctx context.Context, username string) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stored_name, filename, size_bytes, sha256, uploaded_by, uploaded_at
		 FROM uploads WHERE uploaded_by = ? ORDER BY uploaded_at DESC`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var upload Upload
		if err := rows.Scan(&upload.ID, &upload.StoredName, &upload.Filename, &upload.SizeBytes,
			&upload.SHA256, &upload.UploadedBy, &upload.UploadedAt); err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Mask to the primary result code so extended constraint codes match too.
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}

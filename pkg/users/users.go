// Package users persists operator accounts, their dashboards and per-host
// notification settings in users.db. Passwords are bcrypt hashed; hashes
// from older installs (hex SHA-256) are still accepted on login and
// upgraded in place.
package users

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/crypto/bcrypt"

	"github.com/creker7/netvigil/pkg/models"
)

const (
	usersDB = "users.db"

	// bcryptCost trades login latency for resistance to offline cracking.
	bcryptCost = 12

	// DefaultAdminUser is created on first start with DefaultAdminPassword
	// and a forced password change.
	DefaultAdminUser     = "admin"
	DefaultAdminPassword = "admin"
)

// Role gates API access in the web layer.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")

	errFailedToOpen  = errors.New("failed to open users database")
	errFailedToInit  = errors.New("failed to initialize users schema")
	errFailedToQuery = errors.New("failed to query users database")
)

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		must_change_password INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dashboards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS dashboard_items (
		id TEXT PRIMARY KEY,
		dashboard_id TEXT NOT NULL,
		endpoint_id TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(dashboard_id) REFERENCES dashboards(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS host_settings (
		endpoint_id TEXT PRIMARY KEY,
		email_enabled INTEGER NOT NULL DEFAULT 1,
		telegram_enabled INTEGER NOT NULL DEFAULT 1
	);

	PRAGMA journal_mode=WAL;
	PRAGMA foreign_keys=ON;
`

// User is one operator account. The password hash never leaves this
// package.
type User struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	Role               Role      `json:"role"`
	MustChangePassword bool      `json:"must_change_password"`
	CreatedAt          time.Time `json:"created_at"`
}

// Store owns users.db.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) users.db under root and seeds the default
// admin account when the table is empty.
func Open(root string) (*Store, error) {
	db, err := sql.Open("sqlite3", filepath.Join(root, usersDB))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToOpen, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToInit, err)
	}

	s := &Store{db: db}

	if err := s.seedAdmin(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) seedAdmin() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	if count > 0 {
		return nil
	}

	if _, err := s.createUser(DefaultAdminUser, DefaultAdminPassword, RoleAdmin, true); err != nil {
		return err
	}

	log.Printf("Users: created default %q account, password change required on first login", DefaultAdminUser)

	return nil
}

// CreateUser adds an account with a bcrypt-hashed password.
func (s *Store) CreateUser(username, password string, role Role) (User, error) {
	return s.createUser(username, password, role, false)
}

func (s *Store) createUser(username, password string, role Role, mustChange bool) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	u := User{
		ID:                 uuid.NewString(),
		Username:           username,
		Role:               role,
		MustChangePassword: mustChange,
		CreatedAt:          time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO users (id, username, password_hash, role, must_change_password, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, string(hash), string(u.Role), boolToInt(mustChange), u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	return u, nil
}

// Authenticate verifies credentials. A matching legacy SHA-256 hash is
// upgraded to bcrypt transparently.
func (s *Store) Authenticate(username, password string) (User, error) {
	var (
		u    User
		hash string
		mc   int
		role string
	)

	err := s.db.QueryRow(
		`SELECT id, username, password_hash, role, must_change_password, created_at
		 FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &hash, &role, &mc, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Burn a comparison anyway so a missing user costs the same as a
		// wrong password.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$12$XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"), []byte(password))

		return User{}, ErrInvalidCredentials
	} else if err != nil {
		return User{}, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	u.Role = Role(role)
	u.MustChangePassword = mc != 0

	if isLegacyHash(hash) {
		sum := sha256.Sum256([]byte(password))
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(hash)) != 1 {
			return User{}, ErrInvalidCredentials
		}

		if err := s.rehash(u.ID, password); err != nil {
			log.Printf("Users: failed to upgrade legacy hash for %s: %v", username, err)
		}

		return u, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}

	return u, nil
}

// isLegacyHash reports whether the stored hash predates bcrypt (hex-encoded
// SHA-256, 64 hex characters).
func isLegacyHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}

	_, err := hex.DecodeString(hash)

	return err == nil
}

func (s *Store) rehash(id, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, string(hash), id)

	return err
}

// SetPassword replaces the password and clears the forced-change flag.
func (s *Store) SetPassword(id, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE users SET password_hash = ?, must_change_password = 0 WHERE id = ?`,
		string(hash), id)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	return nil
}

// DeleteUser removes an account and, via cascade, its dashboards.
func (s *Store) DeleteUser(id string) error {
	res, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Get returns one account by ID.
func (s *Store) Get(id string) (User, error) {
	var (
		u    User
		mc   int
		role string
	)

	err := s.db.QueryRow(
		`SELECT id, username, role, must_change_password, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &role, &mc, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	} else if err != nil {
		return User{}, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	u.Role = Role(role)
	u.MustChangePassword = mc != 0

	return u, nil
}

// List returns every account, creation order.
func (s *Store) List() ([]User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, role, must_change_password, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var out []User

	for rows.Next() {
		var (
			u    User
			mc   int
			role string
		)

		if err := rows.Scan(&u.ID, &u.Username, &role, &mc, &u.CreatedAt); err != nil {
			return nil, err
		}

		u.Role = Role(role)
		u.MustChangePassword = mc != 0
		out = append(out, u)
	}

	return out, rows.Err()
}

// SetHostNotify persists per-host notification opt-outs.
func (s *Store) SetHostNotify(endpointID string, opts models.NotifyOptions) error {
	_, err := s.db.Exec(
		`INSERT INTO host_settings (endpoint_id, email_enabled, telegram_enabled) VALUES (?, ?, ?)
		 ON CONFLICT(endpoint_id) DO UPDATE SET email_enabled = ?, telegram_enabled = ?`,
		endpointID, boolToInt(opts.Email), boolToInt(opts.Telegram),
		boolToInt(opts.Email), boolToInt(opts.Telegram))
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return nil
}

// HostNotify returns the stored opt-outs for one host; ok is false when the
// host has no row and the caller should fall back to defaults.
func (s *Store) HostNotify(endpointID string) (models.NotifyOptions, bool, error) {
	var email, telegram int

	err := s.db.QueryRow(
		`SELECT email_enabled, telegram_enabled FROM host_settings WHERE endpoint_id = ?`, endpointID).
		Scan(&email, &telegram)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultNotifyOptions(), false, nil
	} else if err != nil {
		return models.NotifyOptions{}, false, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return models.NotifyOptions{Email: email != 0, Telegram: telegram != 0}, true, nil
}

// AllHostNotify returns every stored opt-out, keyed by endpoint ID.
func (s *Store) AllHostNotify() (map[string]models.NotifyOptions, error) {
	rows, err := s.db.Query(`SELECT endpoint_id, email_enabled, telegram_enabled FROM host_settings`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	out := make(map[string]models.NotifyOptions)

	for rows.Next() {
		var (
			id              string
			email, telegram int
		)

		if err := rows.Scan(&id, &email, &telegram); err != nil {
			return nil, err
		}

		out[id] = models.NotifyOptions{Email: email != 0, Telegram: telegram != 0}
	}

	return out, rows.Err()
}

// DeleteHostSettings drops the row when its endpoint is deleted.
func (s *Store) DeleteHostSettings(endpointID string) error {
	_, err := s.db.Exec(`DELETE FROM host_settings WHERE endpoint_id = ?`, endpointID)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

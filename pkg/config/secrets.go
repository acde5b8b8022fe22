package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	secretsFileName = "secrets.enc"
	keyFileName     = "secret.key"

	secretFilePerms = 0o600
)

// Secret keys used by the rest of the system.
const (
	SecretSMTPPassword  = "smtp_password"
	SecretTelegramToken = "telegram_token"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	errCorruptSecrets = errors.New("secret store is corrupt")
)

// Secrets is a small encrypted key/value store. Values are sealed with
// XChaCha20-Poly1305 under a random key stored alongside with 0600
// permissions. Credentials are write-only through the API: handlers store
// values here and never read them back to clients.
type Secrets struct {
	mu     sync.Mutex
	root   string
	key    []byte
	values map[string]string
}

// OpenSecrets loads or initialises the secret store under root.
func OpenSecrets(root string) (*Secrets, error) {
	s := &Secrets{
		root:   root,
		values: make(map[string]string),
	}

	if err := s.loadKey(); err != nil {
		return nil, err
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Secrets) loadKey() error {
	path := filepath.Join(s.root, keyFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return fmt.Errorf("%w: bad key length %d", errCorruptSecrets, len(data))
		}

		s.key = data

		return nil
	}

	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read secret key: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("failed to generate secret key: %w", err)
	}

	if err := os.WriteFile(path, key, secretFilePerms); err != nil {
		return fmt.Errorf("failed to write secret key: %w", err)
	}

	s.key = key

	return nil
}

func (s *Secrets) load() error {
	path := filepath.Join(s.root, secretsFileName)

	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read secrets: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}

	if len(blob) < aead.NonceSize() {
		return errCorruptSecrets
	}

	nonce, sealed := blob[:aead.NonceSize()], blob[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", errCorruptSecrets, err)
	}

	if err := json.Unmarshal(plain, &s.values); err != nil {
		return fmt.Errorf("%w: %w", errCorruptSecrets, err)
	}

	return nil
}

func (s *Secrets) save() error {
	plain, err := json.Marshal(s.values)
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	blob := append(nonce, aead.Seal(nil, nonce, plain, nil)...)

	return atomicWrite(filepath.Join(s.root, secretsFileName), blob, secretFilePerms)
}

// Set stores a secret and persists the store.
func (s *Secrets) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value

	return s.save()
}

// Get returns a stored secret or ErrSecretNotFound.
func (s *Secrets) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}

	return v, nil
}

// Has reports whether a secret exists without exposing it.
func (s *Secrets) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.values[key]

	return ok
}

// MigrateLegacySecrets moves plaintext credentials found in the config into
// the encrypted store, blanks them and rewrites the config. The encrypted
// store is authoritative; legacy values only ever seed it once.
func MigrateLegacySecrets(root string, cfg *Config, secrets *Secrets) error {
	migrated := false

	if cfg.Mail.Password != "" {
		if !secrets.Has(SecretSMTPPassword) {
			if err := secrets.Set(SecretSMTPPassword, cfg.Mail.Password); err != nil {
				return err
			}
		}

		cfg.Mail.Password = ""
		migrated = true
	}

	if cfg.Telegram.Token != "" {
		if !secrets.Has(SecretTelegramToken) {
			if err := secrets.Set(SecretTelegramToken, cfg.Telegram.Token); err != nil {
				return err
			}
		}

		cfg.Telegram.Token = ""
		migrated = true
	}

	if !migrated {
		return nil
	}

	return Save(root, *cfg)
}

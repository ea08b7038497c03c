// Package store persists the credential chain between runs. The system
// keyring is preferred; when it is unavailable the credentials land in a
// flock-guarded JSON file so concurrent invocations do not corrupt it.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/zalando/go-keyring"
)

const (
	serviceName = "sn3"
	account     = "credentials"
	fileName    = "credentials.json"
)

// Credentials is the persisted shape of the chain: the tokens, when each was
// issued, and the profile fields the bullet exchange needs.
type Credentials struct {
	SessionToken   string    `json:"session_token,omitempty"`
	GToken         string    `json:"gtoken,omitempty"`
	GTokenIssued   time.Time `json:"gtoken_issued,omitempty"`
	BulletToken    string    `json:"bullet_token,omitempty"`
	BulletIssued   time.Time `json:"bullet_issued,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	Country        string    `json:"country,omitempty"`
	Language       string    `json:"language,omitempty"`
	Birthday       string    `json:"birthday,omitempty"`
}

// Store handles credential persistence, preferring the system keyring.
type Store struct {
	useKeyring  bool
	fallbackDir string
}

// NewStore creates a credential store rooted at fallbackDir. noKeyring skips
// the keyring entirely, for tests and headless environments.
func NewStore(fallbackDir string, noKeyring bool) *Store {
	if noKeyring || os.Getenv("SN3_NO_KEYRING") != "" {
		return &Store{useKeyring: false, fallbackDir: fallbackDir}
	}

	// Probe whether a keyring backend actually works here
	testKey := serviceName + "::test"
	if err := keyring.Set(serviceName, testKey, "test"); err == nil {
		_ = keyring.Delete(serviceName, testKey)
		return &Store{useKeyring: true, fallbackDir: fallbackDir}
	}
	fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, credentials stored in plaintext at %s\n",
		filepath.Join(fallbackDir, fileName))
	return &Store{useKeyring: false, fallbackDir: fallbackDir}
}

// UsingKeyring reports whether the system keyring backs this store.
func (s *Store) UsingKeyring() bool {
	return s.useKeyring
}

// Path returns the fallback file path.
func (s *Store) Path() string {
	return filepath.Join(s.fallbackDir, fileName)
}

// Load retrieves the persisted credentials. A store that has never been
// written returns empty credentials and no error.
func (s *Store) Load() (*Credentials, error) {
	if s.useKeyring {
		return s.loadFromKeyring()
	}
	return s.loadFromFile()
}

// Save persists the credentials.
func (s *Store) Save(creds *Credentials) error {
	if s.useKeyring {
		return s.saveToKeyring(creds)
	}
	return s.saveToFile(creds)
}

// Delete removes all persisted credentials.
func (s *Store) Delete() error {
	if s.useKeyring {
		err := keyring.Delete(serviceName, account)
		if err == keyring.ErrNotFound {
			return nil
		}
		return err
	}
	return s.deleteFile()
}

func (s *Store) loadFromKeyring() (*Credentials, error) {
	data, err := keyring.Get(serviceName, account)
	if err == keyring.ErrNotFound {
		return &Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("invalid stored credentials: %w", err)
	}
	return &creds, nil
}

func (s *Store) saveToKeyring(creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, account, string(data))
}

// File fallback. Writes are atomic and the whole read or write cycle runs
// under an advisory lock so concurrent invocations cannot interleave.

func (s *Store) lockPath() string {
	return filepath.Join(s.fallbackDir, ".lock")
}

// lockTimeout bounds how long a command waits on the advisory lock. On
// timeout the operation proceeds without it; a stale lock from a crashed
// process must not hang every later invocation.
const lockTimeout = 100 * time.Millisecond

func (s *Store) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.fallbackDir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(s.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func release(fl *flock.Flock) {
	if fl != nil {
		_ = fl.Unlock()
	}
}

func (s *Store) loadFromFile() (*Credentials, error) {
	fl, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer release(fl)

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("invalid stored credentials: %w", err)
	}
	return &creds, nil
}

func (s *Store) saveToFile(creds *Credentials) error {
	fl, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer release(fl)

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write via a uniquely named temp file
	tmpPath := fmt.Sprintf("%s.%d.%d.tmp", s.Path(), os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	// Windows: rename fails when the destination exists
	if runtime.GOOS == "windows" {
		_ = os.Remove(s.Path())
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) deleteFile() error {
	fl, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer release(fl)

	err = os.Remove(s.Path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

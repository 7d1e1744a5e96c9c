// Package credentials manages the rotating pool of upstream OAuth credentials:
// the on-disk store, token refresh, project discovery and rotation strategies.
package credentials

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

const debounceInterval = 100 * time.Millisecond

// Store persists credentials. Implementations must be safe for concurrent use.
type Store interface {
	ReadAll() ([]models.Credential, error)
	WriteAll(creds []models.Credential) error
	// MergeActive overlays the in-memory active set, then changed, onto the
	// stored list. Entries that are only on disk are kept.
	MergeActive(active []models.Credential, changed *models.Credential) error
	// ID derives the stable public id of a refresh token.
	ID(refreshToken string) string
}

// storeFile is the JSON layout of the credential file.
type storeFile struct {
	Salt     string              `json:"salt"`
	Accounts []models.Credential `json:"accounts"`
}

// FileStore is a JSON file Store with atomic writes and hot reload.
type FileStore struct {
	mu            sync.RWMutex
	path          string
	salt          string
	lastHash      [sha256.Size]byte
	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	stopChan      chan struct{}
	closeOnce     sync.Once
}

// NewFileStore opens the credential file at path, creating it with a fresh
// salt when missing. A legacy plain array file is upgraded on first write.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	s := &FileStore{path: path, stopChan: make(chan struct{})}

	file, err := s.load()
	switch {
	case errors.Is(err, os.ErrNotExist):
		file = storeFile{Accounts: []models.Credential{}}
	case err != nil:
		return nil, err
	}

	if file.Salt == "" {
		salt, err := newSalt()
		if err != nil {
			return nil, err
		}
		file.Salt = salt
		if err := s.writeLocked(file); err != nil {
			return nil, err
		}
	}
	s.salt = file.Salt
	return s, nil
}

func newSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// ID returns hex(sha256(salt + refreshToken)) truncated to 16 characters.
func (s *FileStore) ID(refreshToken string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idLocked(refreshToken)
}

// ReadAll returns every stored credential, disabled ones included.
func (s *FileStore) ReadAll() ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if errors.Is(err, os.ErrNotExist) {
		return []models.Credential{}, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range file.Accounts {
		file.Accounts[i].ID = s.idLocked(file.Accounts[i].RefreshToken)
	}
	return file.Accounts, nil
}

// WriteAll replaces the stored list.
func (s *FileStore) WriteAll(creds []models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(storeFile{Salt: s.salt, Accounts: creds})
}

// MergeActive re-reads the file and overlays active and changed by refresh token.
func (s *FileStore) MergeActive(active []models.Credential, changed *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	merged := file.Accounts
	index := make(map[string]int, len(merged))
	for i, c := range merged {
		index[c.RefreshToken] = i
	}
	overlay := func(c models.Credential) {
		if i, ok := index[c.RefreshToken]; ok {
			merged[i] = c
			return
		}
		index[c.RefreshToken] = len(merged)
		merged = append(merged, c)
	}

	for _, c := range active {
		overlay(c)
	}
	if changed != nil {
		overlay(*changed)
	}
	return s.writeLocked(storeFile{Salt: s.salt, Accounts: merged})
}

func (s *FileStore) idLocked(refreshToken string) string {
	sum := sha256.Sum256([]byte(s.salt + refreshToken))
	return hex.EncodeToString(sum[:])[:16]
}

// load reads and parses the file. Callers hold the lock.
func (s *FileStore) load() (storeFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return storeFile{}, err
	}
	return parseStore(data)
}

// parseStore accepts the current object layout and the legacy plain array.
func parseStore(data []byte) (storeFile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return storeFile{Accounts: []models.Credential{}}, nil
	}

	if trimmed[0] == '[' {
		var accounts []models.Credential
		if err := json.Unmarshal(trimmed, &accounts); err != nil {
			return storeFile{}, fmt.Errorf("failed to parse credentials file: %w", err)
		}
		return storeFile{Accounts: accounts}, nil
	}

	var file storeFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return storeFile{}, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if file.Accounts == nil {
		file.Accounts = []models.Credential{}
	}
	return file, nil
}

// writeLocked writes atomically via a temp file and rename.
func (s *FileStore) writeLocked(file storeFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return &models.PersistenceError{Op: "marshal credentials", Err: err}
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return &models.PersistenceError{Op: "write temp file", Err: err}
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return &models.PersistenceError{Op: "rename temp file", Err: err}
	}

	s.lastHash = sha256.Sum256(data)
	return nil
}

// Watch calls onChange after external edits to the file, debounced.
// Writes made by the store itself are ignored.
func (s *FileStore) Watch(onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// The directory is watched so that rename-based editors are seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(watcher, onChange)
	return nil
}

func (s *FileStore) watchLoop(watcher *fsnotify.Watcher, onChange func()) {
	name := filepath.Base(s.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			s.mu.Lock()
			if s.debounceTimer != nil {
				s.debounceTimer.Stop()
			}
			s.debounceTimer = time.AfterFunc(debounceInterval, func() {
				s.handleFileChange(onChange)
			})
			s.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("credentials watcher error", "error", err)

		case <-s.stopChan:
			return
		}
	}
}

func (s *FileStore) handleFileChange(onChange func()) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}

	s.mu.RLock()
	own := sha256.Sum256(data) == s.lastHash
	s.mu.RUnlock()
	if own {
		return
	}

	if file, err := parseStore(data); err == nil && file.Salt != "" {
		s.mu.Lock()
		s.salt = file.Salt
		s.mu.Unlock()
	}

	logger.Info("credentials file changed on disk, reloading", "path", s.path)
	onChange()
}

// Close stops the watcher.
func (s *FileStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

// Package users implements the directory service's login credential store:
// username to bcrypt password hash, persisted to a single flat file and
// loaded wholesale at startup, grounded on the access store's persist-one-
// file pattern but simpler since there is one shared file, not one per user.
package users

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Store is the DS's username/password-hash table.
type Store struct {
	mu    sync.RWMutex
	hash  map[string]string
	path  string // empty disables persistence
}

// New creates an empty user store. If path is non-empty, Register persists
// the whole table to path after each change.
func New(path string) *Store {
	return &Store{hash: make(map[string]string), path: path}
}

// Register creates a new user with the given password, failing if the
// username already exists.
func (s *Store) Register(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hash[username]; exists {
		return fmt.Errorf("users: %q already registered", username)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("users: failed to hash password: %w", err)
	}
	s.hash[username] = string(hashed)
	return s.persistLocked()
}

// Authenticate reports whether password matches username's stored hash.
// A non-existent username always fails, spending the same bcrypt.Compare
// cost as a real user would to avoid a cheap timing signal for enumeration.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.RLock()
	hashed, ok := s.hash[username]
	s.mu.RUnlock()
	if !ok {
		hashed = "$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinvalid"
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
	return ok && err == nil
}

// Exists reports whether username is registered.
func (s *Store) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hash[username]
	return ok
}

// List returns every registered username.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.hash))
	for u := range s.hash {
		out = append(out, u)
	}
	return out
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("users: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for u, h := range s.hash {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", u, h); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the persisted user table from path, if present.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("users: read %s: %w", s.path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		s.hash[parts[0]] = parts[1]
	}
	return nil
}

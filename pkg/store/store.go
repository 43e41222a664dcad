// Package store persists the client's device identity and authentication tokens across process
// restarts. State lives in an application storage directory as two small files: a plain-text
// device-id file and a JSON token file. Both are optional; a missing or unreadable file simply
// triggers regeneration or re-login upstream.
package store

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gwm-community/vehicle-cloud/internal/log"
)

const (
	deviceIDFile = "gwm-device-id.txt"
	tokenFile    = "gwm-tokens.json"
)

// Tokens is the persisted form of an authentication session. ExpiresAt is a Unix timestamp in
// milliseconds, matching the vendor app's on-disk format.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Store reads and writes client state files under a storage directory.
type Store struct {
	dir  string
	lock sync.Mutex
}

// New returns a Store rooted at dir. The directory is created if it does not exist; creation
// failure is deferred to the first write.
func New(dir string) *Store {
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Warning("store: could not create %s: %s", dir, err)
	}
	return &Store{dir: dir}
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// DeviceID returns the persisted device identifier, creating and saving a new one if none
// exists. The identifier is stable across restarts once written; a failure to persist it is
// logged but not fatal, the in-memory value remains authoritative for the process lifetime.
func (s *Store) DeviceID() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	path := filepath.Join(s.dir, deviceIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := fmt.Sprintf("%x", md5.Sum([]byte(uuid.NewString())))
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		log.Warning("store: could not save device ID: %s", err)
	}
	return id
}

// LoadTokens reads the persisted token file. A missing or unparseable file returns nil tokens
// and nil error; callers treat that as "no session".
func (s *Store) LoadTokens() *Tokens {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, tokenFile))
	if err != nil {
		return nil
	}
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		log.Warning("store: discarding unparseable token file: %s", err)
		return nil
	}
	if t.AccessToken == "" {
		return nil
	}
	return &t
}

// SaveTokens writes t to the token file. Persistence is best effort: failures are logged and
// the in-memory session remains authoritative.
func (s *Store) SaveTokens(t *Tokens) {
	if t == nil {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := json.Marshal(t)
	if err != nil {
		log.Warning("store: could not encode tokens: %s", err)
		return
	}
	if err := os.WriteFile(filepath.Join(s.dir, tokenFile), data, 0600); err != nil {
		log.Warning("store: could not save tokens: %s", err)
	}
}

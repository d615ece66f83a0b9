package sessionstate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

const defaultStateDir = "./wal/session"

// Store persists the logged-in user and the backend session cookies so that
// subsequent CLI runs stay logged in.
type Store struct {
	path string
}

func getStateDir() string {
	if stateDir := os.Getenv("TOKENSWALLET_STATE_DIR"); stateDir != "" {
		return stateDir
	}
	return defaultStateDir
}

// NewStore creates a session store scoped to one backend (usually its host).
func NewStore(scope string) (*Store, error) {
	return NewStoreIn(getStateDir(), scope)
}

// NewStoreIn creates a session store under dir.
func NewStoreIn(dir, scope string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create session state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		name = "default"
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// State everything persisted about the session.
type State struct {
	User    *domain.UserProfile `json:"user,omitempty"`
	Cookies []StoredCookie      `json:"cookies,omitempty"`
	SavedAt time.Time           `json:"saved_at"`
}

// StoredCookie is a serializable session cookie.
type StoredCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// Load reads session state from disk. A missing file yields nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read session state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode session state")
	}

	return &state, nil
}

// Save writes session state to disk atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return errors.Wrap(err, "write session state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist session state")
	}

	return nil
}

// Clear removes the persisted session.
func (s *Store) Clear() error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove session state")
	}
	return nil
}

// NewStoredCookies converts jar cookies into their stored representation.
func NewStoredCookies(cookies []*http.Cookie) []StoredCookie {
	out := make([]StoredCookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Value == "" {
			continue
		}
		out = append(out, StoredCookie{Name: c.Name, Value: c.Value, Path: c.Path, Expires: c.Expires})
	}
	return out
}

// HTTPCookies reconstructs cookies that have not expired yet.
func (st *State) HTTPCookies(now time.Time) []*http.Cookie {
	if st == nil {
		return nil
	}
	out := make([]*http.Cookie, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Path: path, Expires: c.Expires})
	}
	return out
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

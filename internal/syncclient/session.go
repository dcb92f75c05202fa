// Package syncclient is the shopper side of the lock API.  Several tabs of
// one shopper share a session id through a file, see each other's
// selections through an in-process hub, and poll the seat map for changes
// made by everyone else.
package syncclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateSession returns the session id stored at path.  A missing or
// unreadable id is replaced by a fresh one, which is written back so the
// other tabs of the group pick it up.
func LoadOrCreateSession(path string) (string, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(raw))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read session: %w", err)
	}

	id := uuid.NewString()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write session: %w", err)
	}
	return id, nil
}

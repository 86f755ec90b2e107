// Package artifact keeps the screenshots taken at the end of choose and
// checkout steps.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

// Store saves a step screenshot and returns where it was written.
type Store interface {
	SaveScreenshot(ctx context.Context, sessionID, step string, png []byte) (string, error)
}

// Nop discards screenshots. It is used when no artifact directory is set.
type Nop struct{}

func (Nop) SaveScreenshot(context.Context, string, string, []byte) (string, error) { return "", nil }

// LocalStore writes screenshots below a root directory as
// <root>/<session>/<step>-<unixnano>.png.
type LocalStore struct {
	rootDir string
	now     func() time.Time
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the root directory. A leading ~ is expanded.
func NewLocalStore(rootDir string) (*LocalStore, error) {
	root := strings.TrimSpace(rootDir)
	if root == "" {
		return nil, errors.New("artifact root dir is required")
	}
	root, err := homedir.Expand(root)
	if err != nil {
		return nil, fmt.Errorf("expand artifact dir %q: %w", rootDir, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStore{rootDir: root, now: time.Now}, nil
}

// New returns a LocalStore for a configured dir, or Nop when dir is empty.
func New(dir string) (Store, error) {
	if strings.TrimSpace(dir) == "" {
		return Nop{}, nil
	}
	return NewLocalStore(dir)
}

// Root returns the expanded root directory.
func (s *LocalStore) Root() string { return s.rootDir }

// SaveScreenshot writes png through a temporary file so readers never see a
// partial image.
func (s *LocalStore) SaveScreenshot(ctx context.Context, sessionID, step string, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(png) == 0 {
		return "", errors.New("screenshot is empty")
	}

	dir := filepath.Join(s.rootDir, sanitize(sessionID, "session"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session artifact dir: %w", err)
	}
	name := fmt.Sprintf("%s-%d.png", sanitize(step, "step"), s.now().UTC().UnixNano())
	path := filepath.Join(dir, name)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, png, 0o644); err != nil {
		return "", fmt.Errorf("write artifact tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return path, nil
}

// sanitize keeps a path element inside its parent directory.
func sanitize(elem, fallback string) string {
	elem = strings.TrimSpace(elem)
	elem = strings.ReplaceAll(elem, "/", "_")
	elem = strings.ReplaceAll(elem, `\`, "_")
	elem = strings.ReplaceAll(elem, "..", "_")
	if elem == "" {
		return fallback
	}
	return elem
}

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSON array per user in <dir>/<username>_history.json.
// A missing or unreadable file is an empty history, so a corrupted file is
// replaced by the next Append.
type FileStore struct {
	dir   string
	locks sync.Map // username => *sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Path(username string) (string, error) {
	if err := checkUsername(username); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, username+"_history.json"), nil
}

func (s *FileStore) Load(ctx context.Context, username string) ([]Item, error) {
	path, err := s.Path(username)
	if err != nil {
		return nil, err
	}
	mx := s.lock(username)
	mx.Lock()
	defer mx.Unlock()
	return s.load(ctx, path), nil
}

func (s *FileStore) Append(ctx context.Context, username string, item Item) error {
	path, err := s.Path(username)
	if err != nil {
		return err
	}
	if err := checkItem(item); err != nil {
		return err
	}
	mx := s.lock(username)
	mx.Lock()
	defer mx.Unlock()

	items := append(s.load(ctx, path), item)
	data, err := json.MarshalIndent(items, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := writeFileAtomic(s.dir, path, data); err != nil {
		return fmt.Errorf("saving history of %s: %w", username, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load(ctx context.Context, path string) []Item {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Item{}
	}
	if err != nil {
		slog.WarnContext(ctx, "can't read history, starting empty", "path", path, "error", err)
		return []Item{}
	}
	items, skipped, err := parseItems(data)
	if err != nil {
		slog.WarnContext(ctx, "corrupted history, starting empty", "path", path, "error", err)
		return []Item{}
	}
	if skipped > 0 {
		slog.WarnContext(ctx, "invalid history items skipped", "path", path, "skipped", skipped)
	}
	return items
}

func (s *FileStore) lock(username string) *sync.Mutex {
	mx, _ := s.locks.LoadOrStore(username, &sync.Mutex{})
	return mx.(*sync.Mutex)
}

// writeFileAtomic writes data to a temporary file in dir with mode 0600, syncs
// it and renames it to path.
func writeFileAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, ".history-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

package history

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/multidoc/gateway/internal/model"
)

var ErrInvalidUsername = errors.New("invalid username")

// Store keeps the history of every user. Load returns an empty, non nil
// slice for a user without history.
type Store interface {
	Load(ctx context.Context, username string) ([]Item, error)
	Append(ctx context.Context, username string, item Item) error
	Close() error
}

var reUsername = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)

func checkUsername(username string) error {
	if !reUsername.MatchString(username) || username == "." || username == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

func checkItem(item Item) error {
	if len(item.raw) == 0 {
		return fmt.Errorf("%w: empty item", model.ErrInvalidItem)
	}
	return nil
}

// New returns the Store selected by cfg.Backend, "file" by default.
func New(ctx context.Context, cfg model.History) (Store, error) {
	switch cfg.Backend {
	case "", model.HistoryBackendFile:
		dir := cfg.Dir
		if dir == "" {
			dir = "."
		}
		return NewFileStore(dir)
	case model.HistoryBackendSQLite:
		return NewSQLiteStore(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.Backend)
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cdex/paper-engine/internal/model"
)

const (
	walletFile    = "wallet.json"
	positionsFile = "positions.json"
)

// FileStore implements Store with JSON documents on local disk. It is the
// default backend: durable local storage with write-through semantics.
// Writes go through a temp file + rename so an abrupt termination never
// leaves a torn document behind. A mutex serializes writers: settlement
// timers persist concurrently with engine calls, and interleaved writes
// to the shared temp path would publish a torn document.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) SaveWallet(_ context.Context, state model.WalletState) error {
	return s.write(walletFile, state)
}

func (s *FileStore) LoadWallet(_ context.Context) (model.WalletState, error) {
	var state model.WalletState
	if !s.read(walletFile, &state) {
		return model.WalletState{}, nil
	}
	return state, nil
}

func (s *FileStore) SavePositions(_ context.Context, positions []model.Position) error {
	return s.write(positionsFile, positions)
}

func (s *FileStore) LoadPositions(_ context.Context) ([]model.Position, error) {
	var positions []model.Position
	if !s.read(positionsFile, &positions) {
		return nil, nil
	}
	return positions, nil
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// read loads a JSON document into v. Missing files are normal (first
// run); corrupt files are discarded with a warning so startup proceeds
// from empty state.
func (s *FileStore) read(name string, v any) bool {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("unreadable state file, starting empty", "file", name, "err", err)
		}
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("corrupt state file, starting empty", "file", name, "err", err)
		return false
	}
	return true
}

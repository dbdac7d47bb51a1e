// Package persistence writes full snapshots of the store to disk and reads
// them back at startup.
package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/miguelrodriguezrv/snapkv/app/store"
)

// ErrNoSnapshot is returned by Load when no snapshot has been written yet.
var ErrNoSnapshot = errors.New("persistence: no snapshot")

// Snapshotter stores and loads the whole key space as one artifact.
// Save replaces the previous artifact and returns once the write finished.
type Snapshotter interface {
	Save(snap store.Snapshot) error
	Load() (store.Snapshot, error)
	Close() error
}

type Backend string

const (
	BackendJSON Backend = "json"
	BackendBolt Backend = "bolt"
	BackendRDB  Backend = "rdb"
	BackendNone Backend = "none"
)

// Open returns the snapshotter for backend writing to path. With inPlace the
// file backends overwrite the artifact directly instead of renaming a
// temporary file over it.
func Open(backend Backend, path string, inPlace bool) (Snapshotter, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONFile(path, inPlace), nil
	case BackendRDB:
		return NewRDBFile(path, inPlace), nil
	case BackendBolt:
		b, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendNone:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown persistence backend %q", backend)
}

// LoadOrEmpty loads the last snapshot. A missing artifact silently yields an
// empty snapshot; any other failure is logged and also yields an empty one.
func LoadOrEmpty(s Snapshotter) store.Snapshot {
	snap, err := s.Load()
	if err == nil {
		log.Info().
			Int("keys", len(snap.Values)).
			Int("expires", len(snap.Deadlines)).
			Msg("Snapshot loaded")
		return snap
	}
	if errors.Is(err, ErrNoSnapshot) {
		log.Info().Msg("No snapshot found, starting empty")
	} else {
		log.Error().Err(err).Msg("Failed to load snapshot, starting empty")
	}
	return store.NewSnapshot()
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Save(store.Snapshot) error { return nil }

func (Nop) Load() (store.Snapshot, error) { return store.Snapshot{}, ErrNoSnapshot }

func (Nop) Close() error { return nil }

// writeFile writes data to path. Unless inPlace is set the data goes to a
// temporary file in the same directory first, which is synced and renamed
// over path.
func writeFile(path string, data []byte, inPlace bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	if inPlace {
		return os.WriteFile(path, data, 0o644)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readFile returns ErrNoSnapshot when path does not exist.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	return data, err
}

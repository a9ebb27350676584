package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// Backend owns the badger database shared by every store.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// slogBridge forwards badger's printf-style logging to slog. Badger is
// chatty at info level, so its info output is demoted to debug.
type slogBridge struct {
	logger *slog.Logger
}

var _ badger.Logger = slogBridge{}

func (s slogBridge) log(level slog.Level, format string, args []any) {
	if !s.logger.Enabled(context.Background(), level) {
		return
	}
	s.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (s slogBridge) Errorf(format string, args ...any)   { s.log(slog.LevelError, format, args) }
func (s slogBridge) Warningf(format string, args ...any) { s.log(slog.LevelWarn, format, args) }
func (s slogBridge) Infof(format string, args ...any)    { s.log(slog.LevelDebug, format, args) }
func (s slogBridge) Debugf(format string, args ...any)   { s.log(slog.LevelDebug, format, args) }

// OpenBackend opens the database stored under dir, creating the directory if
// needed. An empty dir opens a throwaway in-memory database.
func OpenBackend(dir string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger")

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := ensureDir(dir); err != nil {
		return nil, err
	}
	opts = opts.WithLogger(slogBridge{logger: logger}).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w: %w", dir, core.ErrTransient, err)
	}
	logger.Debug("database opened", "dir", dir, "in_memory", dir == "")
	return &Backend{db: db, logger: logger}, nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w: %w", dir, core.ErrConfiguration, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking %s: %w: %w", dir, core.ErrConfiguration, err)
	case !info.IsDir():
		return fmt.Errorf("%s is not a directory: %w", dir, core.ErrConfiguration)
	}
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx runs fn in a transaction that is discarded afterwards; write
// callers commit explicitly. Errors come back translated.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return translate(fn(tx))
}

// NewWriteBatch returns a batch writer that splits oversized writes across
// several transactions.
func (b *Backend) NewWriteBatch() *badger.WriteBatch {
	return b.db.NewWriteBatch()
}

// translate maps badger failures onto the storage error taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrDBClosed):
		return storage.ErrStorageClosed
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %w", core.ErrTransient, err)
	case errors.Is(err, badger.ErrKeyNotFound):
		return storage.ErrNotFound
	}
	return err
}

// cosine returns the cosine similarity of two vectors, 0 if either is zero
// or their lengths differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

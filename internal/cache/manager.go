// Package cache implements the spill-to-disk staging tables that collect
// pending references during an import.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentic-research/cityxlink/internal/xlink"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrInsufficientSpace is returned when the cache directory has less free
// space than the configured minimum.
var ErrInsufficientSpace = errors.New("insufficient disk space for cache table")

const defaultBatchSize = 1000

// Options configures a Manager.
type Options struct {
	// Dir holds the cache database file. Defaults to os.TempDir().
	Dir string
	// BatchSize is the number of rows buffered per table before a write.
	BatchSize int
	// MinFreeBytes is the free space required in Dir before mirroring.
	// Zero disables the check.
	MinFreeBytes uint64
	Logger       *zap.Logger
}

// Manager owns the cache database and at most one live table per model.
type Manager struct {
	db        *sql.DB
	path      string
	dir       string
	temporary bool
	batchSize int
	minFree   uint64
	logger    *zap.Logger

	// writeMu serializes write transactions across all tables.
	writeMu sync.Mutex

	mu     sync.Mutex
	tables map[xlink.Model]*Table
}

// NewManager creates an empty cache database in opts.Dir. The file is
// removed by Cleanup.
func NewManager(opts Options) (*Manager, error) {
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir cache dir: %w", err)
	}
	path := filepath.Join(dir, "xlink-cache-"+uuid.NewString()+".db")

	m, err := openManager(path, opts)
	if err != nil {
		return nil, err
	}
	m.temporary = true
	return m, nil
}

// Open attaches to an existing cache database, e.g. one staged by a
// previous import run, and registers every model table found in it.
func Open(path string, opts Options) (*Manager, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	m, err := openManager(path, opts)
	if err != nil {
		return nil, err
	}

	for _, model := range xlink.Models {
		var name string
		err := m.db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", model.TableName()).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			_ = m.db.Close()
			return nil, fmt.Errorf("inspect cache %s: %w", path, err)
		}
		m.tables[model] = newTable(m, model, name)
	}
	return m, nil
}

func openManager(path string, opts Options) (*Manager, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(OFF)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		db:        db,
		path:      path,
		dir:       filepath.Dir(path),
		batchSize: batch,
		minFree:   opts.MinFreeBytes,
		logger:    logger,
		tables:    make(map[xlink.Model]*Table),
	}, nil
}

// Path returns the cache database file.
func (m *Manager) Path() string { return m.path }

// Create returns the live table for model, creating it on first use.
func (m *Manager) Create(model xlink.Model) (*Table, error) {
	if !model.Valid() {
		return nil, fmt.Errorf("create cache table: unknown model %d", int(model))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[model]; ok {
		return t, nil
	}
	t := newTable(m, model, model.TableName())
	if err := t.create(); err != nil {
		return nil, err
	}
	m.tables[model] = t
	return t, nil
}

// GetCacheTable returns the live table for model, if any rows of that
// model were ever written.
func (m *Manager) GetCacheTable(model xlink.Model) (*Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[model]
	return t, ok
}

// ExistsCacheTable reports whether a live table exists for model.
func (m *Manager) ExistsCacheTable(model xlink.Model) bool {
	_, ok := m.GetCacheTable(model)
	return ok
}

// Insert writes a pending reference into its model's table, creating the
// table lazily.
func (m *Manager) Insert(it xlink.Item) error {
	t, err := m.Create(it.Model())
	if err != nil {
		return err
	}
	return t.Insert(it)
}

// Flush writes the buffered rows of every table.
func (m *Manager) Flush() error {
	for _, t := range m.snapshot() {
		if err := t.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the row count of every live table.
func (m *Manager) Stats() (map[xlink.Model]int64, error) {
	out := make(map[xlink.Model]int64)
	for _, t := range m.snapshot() {
		n, err := t.Size()
		if err != nil {
			return nil, err
		}
		out[t.model] = n
	}
	return out, nil
}

func (m *Manager) snapshot() []*Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Table, 0, len(m.tables))
	for _, model := range xlink.Models {
		if t, ok := m.tables[model]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) forget(t *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.tables[t.model]; ok && cur == t {
		delete(m.tables, t.model)
	}
}

func (m *Manager) checkFreeSpace() error {
	if m.minFree == 0 {
		return nil
	}
	free, err := freeBytes(m.dir)
	if err != nil {
		return fmt.Errorf("stat cache dir: %w", err)
	}
	if free < m.minFree {
		return fmt.Errorf("%w: %d bytes free in %s, need %d", ErrInsufficientSpace, free, m.dir, m.minFree)
	}
	return nil
}

// Close flushes buffered rows and closes the database. Tables are kept.
func (m *Manager) Close() error {
	flushErr := m.Flush()
	if err := m.db.Close(); err != nil {
		return err
	}
	return flushErr
}

// Cleanup drops every table, closes the database and, for managers created
// by NewManager, removes the file.
func (m *Manager) Cleanup() error {
	var errs []error
	for _, t := range m.snapshot() {
		if err := t.Drop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.temporary {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(m.path + suffix); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

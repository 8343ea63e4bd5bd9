package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agentic-research/cityxlink/internal/xlink"
	"go.uber.org/zap"
)

// ErrDropped is returned by operations on a table that has been dropped.
var ErrDropped = errors.New("cache table dropped")

// lookupChunk bounds the number of bound parameters per IN (...) query.
const lookupChunk = 500

// Table is a disk-backed staging table holding pending references of one
// model. Inserts are buffered and written in batches; every read flushes
// the buffer first so Size and Scan always see all rows inserted so far.
type Table struct {
	m     *Manager
	model xlink.Model
	name  string

	mu      sync.Mutex
	pending [][]any
	dropped bool

	// Current mirror snapshot (nil between passes) and the counter used to
	// name the next one.
	mirror    *Table
	mirrorGen int
	isMirror  bool
}

func newTable(m *Manager, model xlink.Model, name string) *Table {
	return &Table{
		m:     m,
		model: model,
		name:  name,
	}
}

// Model returns the category stored in this table.
func (t *Table) Model() xlink.Model { return t.model }

// Name returns the SQL table name.
func (t *Table) Name() string { return t.name }

func (t *Table) columnList() string {
	cols := t.model.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func (t *Table) create() error {
	cols := t.model.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c.Name + " " + c.Type
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.name, strings.Join(defs, ", "))

	t.m.writeMu.Lock()
	defer t.m.writeMu.Unlock()
	if _, err := t.m.db.Exec(ddl); err != nil {
		return fmt.Errorf("create cache table %s: %w", t.name, err)
	}
	return nil
}

// Insert appends one pending reference. The row becomes visible to Size and
// Scan immediately; it reaches disk when the batch fills or on Flush.
func (t *Table) Insert(it xlink.Item) error {
	if it.Model() != t.model {
		return fmt.Errorf("insert %s item into %s cache table", it.Model(), t.model)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return ErrDropped
	}

	t.pending = append(t.pending, xlink.Values(it))
	if len(t.pending) >= t.m.batchSize {
		return t.flushLocked()
	}
	return nil
}

// Flush writes buffered rows.
func (t *Table) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *Table) flushLocked() error {
	if len(t.pending) == 0 {
		return nil
	}
	if t.dropped {
		return ErrDropped
	}

	// Short write transactions under the manager lock keep SQLite's single
	// writer free for the other cache tables.
	t.m.writeMu.Lock()
	defer t.m.writeMu.Unlock()

	tx, err := t.m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch %s: %w", t.name, err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.model.Columns())), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, t.columnList(), placeholders))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch %s: %w", t.name, err)
	}
	for _, vals := range t.pending {
		if _, err := stmt.Exec(vals...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert batch %s: %w", t.name, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %s: %w", t.name, err)
	}

	t.pending = t.pending[:0]
	return nil
}

// Size returns the number of rows inserted since the last truncate.
func (t *Table) Size() (int64, error) {
	if err := t.Flush(); err != nil {
		return 0, err
	}
	var n int64
	if err := t.m.db.QueryRow("SELECT COUNT(*) FROM " + t.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	return n, nil
}

// Scan streams every row in insertion order. Only one decoded row is alive
// at a time. The cursor is closed before Scan returns, so callers may
// mutate the table afterwards.
func (t *Table) Scan(ctx context.Context, fn func(xlink.Item) error) error {
	if err := t.Flush(); err != nil {
		return err
	}

	rows, err := t.m.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", t.columnList(), t.name))
	if err != nil {
		return fmt.Errorf("scan %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		it, err := xlink.Decode(t.model, rows)
		if err != nil {
			return fmt.Errorf("decode %s row: %w", t.name, err)
		}
		if err := fn(it); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return nil
}

// MirrorAndIndex snapshots all rows into a fresh table indexed by the
// model's target columns and truncates this table, so rows inserted from now
// on belong to the next generation. The returned mirror stays the table's
// current mirror until DropMirrorTable.
func (t *Table) MirrorAndIndex() (*Table, error) {
	if t.isMirror {
		return nil, fmt.Errorf("mirror of mirror table %s", t.name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return nil, ErrDropped
	}
	if err := t.flushLocked(); err != nil {
		return nil, err
	}
	if err := t.m.checkFreeSpace(); err != nil {
		return nil, fmt.Errorf("mirror %s: %w", t.name, err)
	}

	// A mirror left over from an aborted pass is replaced.
	if t.mirror != nil {
		if err := t.mirror.Drop(); err != nil {
			return nil, err
		}
		t.mirror = nil
	}

	t.mirrorGen++
	mirror := newTable(t.m, t.model, fmt.Sprintf("%s_MIRROR_%d", t.name, t.mirrorGen))
	mirror.isMirror = true

	t.m.writeMu.Lock()
	defer t.m.writeMu.Unlock()

	tx, err := t.m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin mirror %s: %w", t.name, err)
	}
	stmts := []string{
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s ORDER BY rowid", mirror.name, t.name),
	}
	for _, col := range t.model.IndexColumns() {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s_%s_IDX ON %s (%s)", mirror.name, col, mirror.name, col))
	}
	stmts = append(stmts, "DELETE FROM "+t.name)
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("mirror %s: %w", t.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mirror %s: %w", t.name, err)
	}

	t.mirror = mirror
	t.m.logger.Debug("mirrored cache table",
		zap.String("table", t.name),
		zap.String("mirror", mirror.name))
	return mirror, nil
}

// Mirror returns the current mirror snapshot, or nil between passes.
func (t *Table) Mirror() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mirror
}

// DropMirrorTable releases the current mirror snapshot.
func (t *Table) DropMirrorTable() error {
	t.mu.Lock()
	mirror := t.mirror
	t.mirror = nil
	t.mu.Unlock()

	if mirror == nil {
		return nil
	}
	return mirror.Drop()
}

// Truncate removes all rows, buffered ones included, without dropping the
// table.
func (t *Table) Truncate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return ErrDropped
	}
	t.pending = t.pending[:0]

	t.m.writeMu.Lock()
	defer t.m.writeMu.Unlock()
	if _, err := t.m.db.Exec("DELETE FROM " + t.name); err != nil {
		return fmt.Errorf("truncate %s: %w", t.name, err)
	}
	return nil
}

// EnableIndexes builds the model's index columns on this table.
func (t *Table) EnableIndexes() error {
	if err := t.Flush(); err != nil {
		return err
	}

	t.m.writeMu.Lock()
	defer t.m.writeMu.Unlock()
	for _, col := range t.model.IndexColumns() {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_IDX ON %s (%s)", t.name, col, t.name, col)
		if _, err := t.m.db.Exec(stmt); err != nil {
			return fmt.Errorf("index %s.%s: %w", t.name, col, err)
		}
	}
	return nil
}

// Drop removes the table and its current mirror. Dropping twice is a no-op.
func (t *Table) Drop() error {
	if err := t.DropMirrorTable(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return nil
	}
	t.pending = nil

	t.m.writeMu.Lock()
	defer t.m.writeMu.Unlock()
	if _, err := t.m.db.Exec("DROP TABLE IF EXISTS " + t.name); err != nil {
		return fmt.Errorf("drop %s: %w", t.name, err)
	}
	t.dropped = true
	if !t.isMirror {
		t.m.forget(t)
	}
	return nil
}

func (t *Table) checkColumn(column string) error {
	if slices.ContainsFunc(t.model.Columns(), func(c xlink.Column) bool { return c.Name == column }) {
		return nil
	}
	return fmt.Errorf("%s has no column %s", t.name, column)
}

// ContainsAny reports whether any row has column set to one of values.
func (t *Table) ContainsAny(ctx context.Context, column string, values []int64) (bool, error) {
	if err := t.checkColumn(column); err != nil {
		return false, err
	}
	if err := t.Flush(); err != nil {
		return false, err
	}

	for start := 0; start < len(values); start += lookupChunk {
		chunk := values[start:min(start+lookupChunk, len(values))]
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		q := fmt.Sprintf("SELECT 1 FROM %s WHERE %s IN (%s) LIMIT 1", t.name, column, placeholders)

		var one int
		err := t.m.db.QueryRowContext(ctx, q, args...).Scan(&one)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("lookup %s.%s: %w", t.name, column, err)
		}
	}
	return false, nil
}

// Lookup returns all rows whose column equals value, in insertion order.
func (t *Table) Lookup(ctx context.Context, column string, value any) ([]xlink.Item, error) {
	if err := t.checkColumn(column); err != nil {
		return nil, err
	}
	if err := t.Flush(); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY rowid", t.columnList(), t.name, column)
	rows, err := t.m.db.QueryContext(ctx, q, value)
	if err != nil {
		return nil, fmt.Errorf("lookup %s.%s: %w", t.name, column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []xlink.Item
	for rows.Next() {
		it, err := xlink.Decode(t.model, rows)
		if err != nil {
			return nil, fmt.Errorf("decode %s row: %w", t.name, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

package scoring

import (
	"errors"
	"sync/atomic"
)

// Holder publishes the current calibration table. Readers take a snapshot
// with Load and use it for a whole evaluation; Swap replaces the table
// atomically without disturbing evaluations already in flight.
type Holder struct {
	table atomic.Pointer[Table]
}

// NewHolder returns a holder serving t, or the default table when t is nil.
func NewHolder(t *Table) *Holder {
	if t == nil {
		t = DefaultTable()
	}
	h := &Holder{}
	h.table.Store(t)
	return h
}

// Load returns the current table.
func (h *Holder) Load() *Table {
	return h.table.Load()
}

// Swap validates t and installs it, returning the previous table.
func (h *Holder) Swap(t *Table) (*Table, error) {
	if t == nil {
		return nil, errors.New("nil calibration table")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return h.table.Swap(t), nil
}

// Reload loads path and swaps it in. On failure the current table is kept.
func (h *Holder) Reload(path string) (*Table, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	if _, err := h.Swap(t); err != nil {
		return nil, err
	}
	return t, nil
}

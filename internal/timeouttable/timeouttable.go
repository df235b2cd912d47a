// Package timeouttable implements the per-CAN-ID flush period lookup the
// flush timer consults to shrink its next fire time (spec.md §4.4, §6
// timeout_table).
package timeouttable

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Table maps a CAN identifier to a flush period. It is safe for concurrent
// reads and writes: a producer goroutine looks entries up on every insert
// while config reload (if ever added) would replace individual entries.
type Table struct {
	mu      sync.RWMutex
	periods map[uint32]time.Duration
}

// New returns an empty table; Lookup always reports not-found.
func New() *Table {
	return &Table{periods: make(map[uint32]time.Duration)}
}

// Set installs or replaces the flush period for id.
func (t *Table) Set(id uint32, period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.periods[id] = period
}

// Lookup returns the configured period for id, if any.
func (t *Table) Lookup(id uint32) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.periods[id]
	return p, ok
}

// Len reports the number of configured entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.periods)
}

// Parse builds a Table from the -timeout-table flag value: a comma
// separated list of id:micros pairs, e.g. "100:5000,7ff:1000". The id is
// parsed as hexadecimal (matching cannelloni's command-line convention for
// CAN identifiers); micros is decimal microseconds.
func Parse(s string) (*Table, error) {
	t := New()
	s = strings.TrimSpace(s)
	if s == "" {
		return t, nil
	}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("timeouttable: malformed entry %q, want id:micros", entry)
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("timeouttable: bad id in %q: %w", entry, err)
		}
		micros, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("timeouttable: bad period in %q: %w", entry, err)
		}
		t.Set(uint32(id), time.Duration(micros)*time.Microsecond)
	}
	return t, nil
}

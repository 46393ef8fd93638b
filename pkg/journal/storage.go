package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"index-swap/pkg/idempotency"
	"index-swap/pkg/swap"
)

const (
	DefaultStorageFileName = ".index-swap-journal.json"
)

// Entry is the audit record of one finished or abandoned attempt
type Entry struct {
	Key        idempotency.Key          `json:"idempotency_key"`
	Direction  swap.Direction           `json:"direction"`
	Amount     decimal.Decimal          `json:"amount"`
	Asset      string                   `json:"asset"`
	State      swap.State               `json:"state"`
	Abandoned  bool                     `json:"abandoned,omitempty"`
	OrderRef   string                   `json:"order_ref,omitempty"`
	ErrorKind  swap.ErrorKind           `json:"error_kind,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Records    []swap.TransactionRecord `json:"records"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// NewEntry builds a journal entry from an attempt's outcome
func NewEntry(out *swap.Outcome, startedAt time.Time) *Entry {
	e := &Entry{
		Key:        out.Intent.Key,
		Direction:  out.Intent.Direction,
		Amount:     out.Intent.Amount,
		Asset:      out.Intent.Asset,
		State:      out.State,
		Abandoned:  out.Abandoned,
		Records:    out.Records,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if e.Records == nil {
		e.Records = []swap.TransactionRecord{}
	}
	if out.Order != nil {
		e.OrderRef = out.Order.Reference
	}
	if out.Err != nil {
		e.ErrorKind = out.Err.Kind
		e.Error = out.Err.Error()
	}
	return e
}

// NeedsReconciliation reports whether the attempt may have moved funds
// without reaching success
func (e *Entry) NeedsReconciliation() bool {
	return e.State != swap.StateSuccess && len(e.Records) > 0
}

// Storage handles persistence of journal entries
type Storage struct {
	filePath string
	mu       sync.RWMutex
	entries  map[idempotency.Key]*Entry
}

// JournalStorage represents the JSON structure for storage
type JournalStorage struct {
	Entries []*Entry `json:"entries"`
}

// NewStorage creates a new storage instance
func NewStorage(filePath string) (*Storage, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStorageFileName)
	}

	storage := &Storage{
		filePath: filePath,
		entries:  make(map[idempotency.Key]*Entry),
	}

	// A missing file is created on first append
	if err := storage.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	return storage, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var js JournalStorage
	if err := json.Unmarshal(data, &js); err != nil {
		return fmt.Errorf("failed to unmarshal journal: %w", err)
	}

	for _, e := range js.Entries {
		s.entries[e.Key] = e
	}
	return nil
}

// save writes entries to the storage file. Callers hold the write lock.
func (s *Storage) save() error {
	js := JournalStorage{Entries: s.sorted(nil)}

	data, err := json.MarshalIndent(js, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Append records an attempt. Keys are never reused, so an existing entry
// under the same key is an error.
func (s *Storage) Append(entry *Entry) error {
	if entry.Key.IsZero() {
		return fmt.Errorf("entry has no idempotency key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Key]; exists {
		return fmt.Errorf("entry '%s' already exists", entry.Key)
	}
	s.entries[entry.Key] = entry

	if err := s.save(); err != nil {
		delete(s.entries, entry.Key)
		return err
	}
	return nil
}

// Get retrieves an entry by key, or by a unique key prefix
func (s *Storage) Get(key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k, err := idempotency.ParseKey(key); err == nil {
		if e, ok := s.entries[k]; ok {
			return e, nil
		}
		return nil, fmt.Errorf("entry '%s' not found", key)
	}

	prefix := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", ""))
	if prefix == "" {
		return nil, fmt.Errorf("empty key")
	}

	var found *Entry
	for k, e := range s.entries {
		if strings.HasPrefix(k.String(), prefix) {
			if found != nil {
				return nil, fmt.Errorf("key prefix '%s' is ambiguous", key)
			}
			found = e
		}
	}
	if found == nil {
		return nil, fmt.Errorf("entry '%s' not found", key)
	}
	return found, nil
}

// List returns all entries, most recent first
func (s *Storage) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(nil)
}

// ListByState returns entries in the given final state, most recent first
func (s *Storage) ListByState(state swap.State) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(func(e *Entry) bool { return e.State == state })
}

// Count returns the total number of entries
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// GetFilePath returns the storage file path
func (s *Storage) GetFilePath() string {
	return s.filePath
}

func (s *Storage) sorted(keep func(*Entry) bool) []*Entry {
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Key.String() < out[j].Key.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Package archive keeps a copy of every completed workbook in object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

// ErrNotArchived is returned by Get when no copy exists.
var ErrNotArchived = errors.New("workbook not archived")

type Entry struct {
	Key          string    `json:"key"`
	WeekKey      string    `json:"weekKey"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type Archiver interface {
	Put(ctx context.Context, wb store.Workbook) (string, error)
	Get(ctx context.Context, tenantID, personID string, year, week int) (store.Workbook, error)
	List(ctx context.Context, tenantID, personID string) ([]Entry, error)
}

// Key is families/<tenant>/people/<person>/<isoYear>-W<week>.json.
func Key(tenantID, personID string, year, week int) string {
	return fmt.Sprintf("%s%d-W%02d.json", personPrefix(tenantID, personID), year, week)
}

func personPrefix(tenantID, personID string) string {
	return fmt.Sprintf("families/%s/people/%s/", tenantID, personID)
}

func weekKeyOf(key string) string {
	return strings.TrimSuffix(key[strings.LastIndex(key, "/")+1:], ".json")
}

func validateParts(tenantID, personID string) error {
	for _, part := range []string{tenantID, personID} {
		if part == "" || strings.ContainsAny(part, "/\\") || part == "." || part == ".." {
			return fmt.Errorf("invalid archive path segment %q", part)
		}
	}
	return nil
}

// Noop is used when no object storage is configured.
type Noop struct{}

func (Noop) Put(context.Context, store.Workbook) (string, error) { return "", nil }

func (Noop) Get(context.Context, string, string, int, int) (store.Workbook, error) {
	return store.Workbook{}, ErrNotArchived
}

func (Noop) List(context.Context, string, string) ([]Entry, error) { return []Entry{}, nil }

// Memory keeps archived payloads in process.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	objects map[string][]byte
	times   map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		objects: make(map[string][]byte),
		times:   make(map[string]time.Time),
	}
}

func (m *Memory) Put(_ context.Context, wb store.Workbook) (string, error) {
	if err := validateParts(wb.FamilyID, wb.PersonID); err != nil {
		return "", err
	}
	payload, err := encode(wb)
	if err != nil {
		return "", err
	}
	key := Key(wb.FamilyID, wb.PersonID, wb.WeekYear, wb.WeekNumber)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = payload
	m.times[key] = m.now()
	return key, nil
}

func (m *Memory) Get(_ context.Context, tenantID, personID string, year, week int) (store.Workbook, error) {
	if err := validateParts(tenantID, personID); err != nil {
		return store.Workbook{}, err
	}
	m.mu.Lock()
	payload, ok := m.objects[Key(tenantID, personID, year, week)]
	m.mu.Unlock()
	if !ok {
		return store.Workbook{}, ErrNotArchived
	}
	return decode(payload)
}

func (m *Memory) List(_ context.Context, tenantID, personID string) ([]Entry, error) {
	if err := validateParts(tenantID, personID); err != nil {
		return nil, err
	}
	prefix := personPrefix(tenantID, personID)
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, 0)
	for key, payload := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, Entry{Key: key, WeekKey: weekKeyOf(key), Size: int64(len(payload)), LastModified: m.times[key]})
	}
	sortEntries(entries)
	return entries, nil
}

// sortEntries orders newest week first. Keys embed a zero-padded week so
// lexical order is chronological.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key > entries[j].Key })
}

package notifylog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/clinical-notify/internal/apperr"
)

var (
	ErrDuplicateRecord = errors.New("notification record already exists")
	ErrMissingID       = errors.New("notification record id is required")
	errClosed          = errors.New("notification log closed")
)

// MemoryStore is a thread-safe in-process log for tests and single-node deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	byPatient map[string][]string
	closed    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*Record),
		byPatient: make(map[string][]string),
	}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	stored := rec.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.StorageUnavailable(errClosed, "append notification record")
	}
	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicateRecord
	}
	s.records[rec.ID] = &stored
	s.byPatient[rec.PatientHospitalNumber] = append(s.byPatient[rec.PatientHospitalNumber], rec.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, apperr.StorageUnavailable(errClosed, "get notification record")
	}
	rec, ok := s.records[id]
	if !ok {
		return Record{}, apperr.NotFound("notification record %s not found", id)
	}
	return rec.clone(), nil
}

func (s *MemoryStore) ListByPatient(_ context.Context, hospitalNumber string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperr.StorageUnavailable(errClosed, "list notification records")
	}
	ids := s.byPatient[hospitalNumber]
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].clone())
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.StorageUnavailable(errClosed, "mark notification read")
	}
	rec, ok := s.records[id]
	if !ok || rec.Channel != ChannelInApp {
		return apperr.NotFound("in-app notification %s not found", id)
	}
	if rec.ReadAt != nil {
		return nil
	}
	readAt := now.UTC()
	rec.ReadAt = &readAt
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return apperr.StorageUnavailable(errClosed, "ping notification log")
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SortNewestFirst orders records by SentAt descending; ids break ties so the
// order is stable for records written in the same instant.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].SentAt.Equal(records[j].SentAt) {
			return records[i].SentAt.After(records[j].SentAt)
		}
		return records[i].ID > records[j].ID
	})
}

package artifact

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/clinical-notify/internal/apperr"
)

var errClosed = errors.New("artifact store closed")

// MemoryIndex keeps artifact metadata in process memory.
type MemoryIndex struct {
	mu      sync.RWMutex
	byID    map[string]Artifact
	byHN    map[string][]string
	byVisit map[string][]string
	closed  bool
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		byID:    make(map[string]Artifact),
		byHN:    make(map[string][]string),
		byVisit: make(map[string][]string),
	}
}

func (m *MemoryIndex) Insert(_ context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperr.StorageUnavailable(errClosed, "insert artifact")
	}
	if _, exists := m.byID[a.ID]; exists {
		return ErrArtifactExists
	}
	m.byID[a.ID] = a
	m.byHN[a.PatientHospitalNumber] = append(m.byHN[a.PatientHospitalNumber], a.ID)
	if a.VisitOrRecordID != "" {
		m.byVisit[a.VisitOrRecordID] = append(m.byVisit[a.VisitOrRecordID], a.ID)
	}
	return nil
}

func (m *MemoryIndex) Get(_ context.Context, id string) (Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Artifact{}, apperr.StorageUnavailable(errClosed, "get artifact")
	}
	a, ok := m.byID[id]
	if !ok {
		return Artifact{}, apperr.NotFound("artifact %s not found", id)
	}
	return a, nil
}

func (m *MemoryIndex) ListByPatient(_ context.Context, hospitalNumber string) ([]Artifact, error) {
	return m.list(m.byHN, hospitalNumber)
}

func (m *MemoryIndex) ListByVisitOrRecord(_ context.Context, id string) ([]Artifact, error) {
	return m.list(m.byVisit, id)
}

func (m *MemoryIndex) list(index map[string][]string, key string) ([]Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, apperr.StorageUnavailable(errClosed, "list artifacts")
	}
	out := make([]Artifact, 0, len(index[key]))
	for _, id := range index[key] {
		out = append(out, m.byID[id])
	}
	SortNewestFirst(out)
	return out, nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperr.StorageUnavailable(errClosed, "delete artifact")
	}
	a, ok := m.byID[id]
	if !ok {
		return apperr.NotFound("artifact %s not found", id)
	}
	delete(m.byID, id)
	m.byHN[a.PatientHospitalNumber] = without(m.byHN[a.PatientHospitalNumber], id)
	if a.VisitOrRecordID != "" {
		m.byVisit[a.VisitOrRecordID] = without(m.byVisit[a.VisitOrRecordID], id)
	}
	return nil
}

func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// SortNewestFirst orders artifacts by CreatedAt descending with id as tiebreak.
func SortNewestFirst(list []Artifact) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// MemoryBlobs keeps artifact bytes in process memory.
type MemoryBlobs struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	closed bool
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobs) Put(_ context.Context, id string, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", apperr.StorageUnavailable(errClosed, "put artifact content")
	}
	if _, exists := m.blobs[id]; exists {
		return "", ErrArtifactExists
	}
	m.blobs[id] = append([]byte(nil), content...)
	return "mem://artifacts/" + id, nil
}

func (m *MemoryBlobs) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, apperr.StorageUnavailable(errClosed, "get artifact content")
	}
	content, ok := m.blobs[id]
	if !ok {
		return nil, apperr.NotFound("artifact content %s not found", id)
	}
	return append([]byte(nil), content...), nil
}

func (m *MemoryBlobs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperr.StorageUnavailable(errClosed, "delete artifact content")
	}
	if _, ok := m.blobs[id]; !ok {
		return apperr.NotFound("artifact content %s not found", id)
	}
	delete(m.blobs, id)
	return nil
}

func (m *MemoryBlobs) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

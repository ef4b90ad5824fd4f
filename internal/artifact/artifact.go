package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/event"
)

const ContentTypePDF = "application/pdf"

// ErrArtifactExists is returned when an id is written twice.
var ErrArtifactExists = errors.New("artifact already exists")

// Artifact is the metadata of one stored document.
type Artifact struct {
	ID                    string     `json:"id"`
	PatientHospitalNumber string     `json:"patient_hospital_number"`
	VisitOrRecordID       string     `json:"visit_or_record_id,omitempty"`
	Kind                  event.Kind `json:"kind"`
	EventID               string     `json:"event_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	CreatedByActorID      string     `json:"created_by_actor_id,omitempty"`
	ByteSize              int64      `json:"byte_size"`
	ContentType           string     `json:"content_type"`
	SHA256                string     `json:"sha256"`
	ContentRef            string     `json:"content_ref"`
}

// Metadata is what the caller supplies; identity and content facts are
// assigned by the store.
type Metadata struct {
	PatientHospitalNumber string
	VisitOrRecordID       string
	Kind                  event.Kind
	EventID               string
	CreatedByActorID      string
	ContentType           string
}

type Store interface {
	Store(ctx context.Context, content []byte, meta Metadata) (Artifact, error)
	GetByID(ctx context.Context, id string) (Artifact, []byte, error)
	// ListByPatient returns artifacts newest first.
	ListByPatient(ctx context.Context, hospitalNumber string) ([]Artifact, error)
	ListByVisitOrRecord(ctx context.Context, id string) ([]Artifact, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Index persists artifact metadata.
type Index interface {
	Insert(ctx context.Context, a Artifact) error
	Get(ctx context.Context, id string) (Artifact, error)
	ListByPatient(ctx context.Context, hospitalNumber string) ([]Artifact, error)
	ListByVisitOrRecord(ctx context.Context, id string) ([]Artifact, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// BlobStore persists artifact bytes. Put never overwrites an existing id.
type BlobStore interface {
	Put(ctx context.Context, id string, content []byte) (ref string, err error)
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Service stores metadata and bytes separately and returns them together.
type Service struct {
	index Index
	blobs BlobStore
	now   func() time.Time
	newID func() (uuid.UUID, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(index Index, blobs BlobStore, opts ...Option) *Service {
	s := &Service{index: index, blobs: blobs, now: time.Now, newID: uuid.NewV7}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store(ctx context.Context, content []byte, meta Metadata) (Artifact, error) {
	hn := strings.TrimSpace(meta.PatientHospitalNumber)
	if hn == "" {
		return Artifact{}, apperr.InvalidEvent("artifact patient hospital number is required")
	}
	id, err := s.newID()
	if err != nil {
		return Artifact{}, apperr.Wrap(apperr.CodeInternal, err, "generate artifact id")
	}
	sum := sha256.Sum256(content)
	contentType := meta.ContentType
	if contentType == "" {
		contentType = ContentTypePDF
	}

	a := Artifact{
		ID:                    id.String(),
		PatientHospitalNumber: hn,
		VisitOrRecordID:       strings.TrimSpace(meta.VisitOrRecordID),
		Kind:                  meta.Kind,
		EventID:               meta.EventID,
		CreatedAt:             s.now().UTC(),
		CreatedByActorID:      meta.CreatedByActorID,
		ByteSize:              int64(len(content)),
		ContentType:           contentType,
		SHA256:                hex.EncodeToString(sum[:]),
	}

	ref, err := s.blobs.Put(ctx, a.ID, content)
	if err != nil {
		return Artifact{}, storageErr(err, "write artifact content")
	}
	a.ContentRef = ref

	if err := s.index.Insert(ctx, a); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), a.ID); delErr != nil {
			err = multierr.Append(err, delErr)
		}
		return Artifact{}, storageErr(err, "index artifact")
	}
	return a, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Artifact, []byte, error) {
	a, err := s.index.Get(ctx, id)
	if err != nil {
		return Artifact{}, nil, err
	}
	content, err := s.blobs.Get(ctx, id)
	if err != nil {
		return Artifact{}, nil, err
	}
	return a, content, nil
}

func (s *Service) ListByPatient(ctx context.Context, hospitalNumber string) ([]Artifact, error) {
	return s.index.ListByPatient(ctx, strings.TrimSpace(hospitalNumber))
}

func (s *Service) ListByVisitOrRecord(ctx context.Context, id string) ([]Artifact, error) {
	return s.index.ListByVisitOrRecord(ctx, strings.TrimSpace(id))
}

// Delete removes the metadata first so a failed blob removal never leaves a
// listed artifact without content.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.index.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return storageErr(err, "delete artifact content")
	}
	return nil
}

func (s *Service) Close() error {
	return multierr.Combine(s.index.Close(), s.blobs.Close())
}

func storageErr(err error, msg string) error {
	if apperr.CodeOf(err) == apperr.CodeStorageUnavailable {
		return err
	}
	return apperr.StorageUnavailable(err, msg)
}

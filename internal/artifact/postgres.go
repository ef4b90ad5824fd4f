package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/event"
)

const insertArtifact = `
INSERT INTO document_artifacts (
id,
patient_hospital_number,
visit_or_record_id,
kind,
event_id,
created_at,
created_by_actor_id,
byte_size,
content_type,
sha256,
content_ref
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING
`

const artifactColumns = `id, patient_hospital_number, visit_or_record_id, kind, event_id, created_at, created_by_actor_id, byte_size, content_type, sha256, content_ref`

const selectArtifact = `SELECT ` + artifactColumns + ` FROM document_artifacts WHERE id = $1`

const selectByPatient = `SELECT ` + artifactColumns + ` FROM document_artifacts
WHERE patient_hospital_number = $1
ORDER BY created_at DESC, id DESC`

const selectByVisit = `SELECT ` + artifactColumns + ` FROM document_artifacts
WHERE visit_or_record_id = $1
ORDER BY created_at DESC, id DESC`

const deleteArtifact = `DELETE FROM document_artifacts WHERE id = $1`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresIndex keeps artifact metadata in the document_artifacts table. The
// pool is shared with the notification log and is not closed here.
type PostgresIndex struct {
	db querier
}

func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{db: pool}
}

func (p *PostgresIndex) Insert(ctx context.Context, a Artifact) error {
	tag, err := p.db.Exec(ctx, insertArtifact,
		a.ID,
		a.PatientHospitalNumber,
		a.VisitOrRecordID,
		string(a.Kind),
		a.EventID,
		a.CreatedAt.UTC(),
		a.CreatedByActorID,
		a.ByteSize,
		a.ContentType,
		a.SHA256,
		a.ContentRef,
	)
	if err != nil {
		return apperr.StorageUnavailable(err, "insert artifact")
	}
	if tag.RowsAffected() == 0 {
		return ErrArtifactExists
	}
	return nil
}

func (p *PostgresIndex) Get(ctx context.Context, id string) (Artifact, error) {
	a, err := scanArtifact(p.db.QueryRow(ctx, selectArtifact, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Artifact{}, apperr.NotFound("artifact %s not found", id)
		}
		return Artifact{}, apperr.StorageUnavailable(err, "select artifact")
	}
	return a, nil
}

func (p *PostgresIndex) ListByPatient(ctx context.Context, hospitalNumber string) ([]Artifact, error) {
	return p.list(ctx, selectByPatient, hospitalNumber)
}

func (p *PostgresIndex) ListByVisitOrRecord(ctx context.Context, id string) ([]Artifact, error) {
	return p.list(ctx, selectByVisit, id)
}

func (p *PostgresIndex) list(ctx context.Context, query, arg string) ([]Artifact, error) {
	rows, err := p.db.Query(ctx, query, arg)
	if err != nil {
		return nil, apperr.StorageUnavailable(err, "list artifacts")
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, apperr.StorageUnavailable(err, "scan artifact")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StorageUnavailable(err, "iterate artifacts")
	}
	return out, nil
}

func (p *PostgresIndex) Delete(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, deleteArtifact, id)
	if err != nil {
		return apperr.StorageUnavailable(err, "delete artifact")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("artifact %s not found", id)
	}
	return nil
}

func (p *PostgresIndex) Close() error { return nil }

func scanArtifact(row pgx.Row) (Artifact, error) {
	var (
		a         Artifact
		kind      string
		createdAt time.Time
	)
	if err := row.Scan(
		&a.ID,
		&a.PatientHospitalNumber,
		&a.VisitOrRecordID,
		&kind,
		&a.EventID,
		&createdAt,
		&a.CreatedByActorID,
		&a.ByteSize,
		&a.ContentType,
		&a.SHA256,
		&a.ContentRef,
	); err != nil {
		return Artifact{}, err
	}
	a.Kind = event.Kind(kind)
	a.CreatedAt = createdAt.UTC()
	return a, nil
}

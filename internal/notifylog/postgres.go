package notifylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/event"
)

const insertRecord = `
INSERT INTO notification_records (
id,
event_id,
patient_hospital_number,
kind,
channel,
status,
reason,
rendered_summary,
artifact_id,
data,
sent_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING
`

const recordColumns = `id, event_id, patient_hospital_number, kind, channel, status, reason, rendered_summary, artifact_id, data, sent_at, read_at`

const selectRecord = `SELECT ` + recordColumns + `
FROM notification_records
WHERE id = $1
`

const selectByPatient = `SELECT ` + recordColumns + `
FROM notification_records
WHERE patient_hospital_number = $1
ORDER BY sent_at DESC, id DESC
`

const markRead = `
UPDATE notification_records
SET read_at = $2
WHERE id = $1 AND channel = 'in_app' AND read_at IS NULL
`

const readableExists = `
SELECT EXISTS (SELECT 1 FROM notification_records WHERE id = $1 AND channel = 'in_app')
`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type PostgresStore struct {
	db    querier
	close func()
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, close: pool.Close}
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode record data: %w", err)
	}
	tag, err := s.db.Exec(ctx, insertRecord,
		rec.ID,
		rec.EventID,
		rec.PatientHospitalNumber,
		string(rec.Kind),
		string(rec.Channel),
		string(rec.Status),
		rec.Reason,
		rec.RenderedSummary,
		rec.ArtifactID,
		data,
		rec.SentAt.UTC(),
	)
	if err != nil {
		return apperr.StorageUnavailable(err, "insert notification record")
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateRecord
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, selectRecord, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, apperr.NotFound("notification record %s not found", id)
		}
		return Record{}, apperr.StorageUnavailable(err, "select notification record")
	}
	return rec, nil
}

func (s *PostgresStore) ListByPatient(ctx context.Context, hospitalNumber string) ([]Record, error) {
	rows, err := s.db.Query(ctx, selectByPatient, hospitalNumber)
	if err != nil {
		return nil, apperr.StorageUnavailable(err, "list notification records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.StorageUnavailable(err, "scan notification record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StorageUnavailable(err, "iterate notification records")
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, id string, now time.Time) error {
	tag, err := s.db.Exec(ctx, markRead, id, now.UTC())
	if err != nil {
		return apperr.StorageUnavailable(err, "mark notification read")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, readableExists, id).Scan(&exists); err != nil {
		return apperr.StorageUnavailable(err, "check notification record")
	}
	if !exists {
		return apperr.NotFound("in-app notification %s not found", id)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return apperr.StorageUnavailable(err, "ping notification log")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		id, eventID, patient, kind, channel, status string
		reason, summary, artifactID                 string
		data                                        []byte
		sentAt                                      time.Time
		readAt                                      *time.Time
	)
	if err := row.Scan(&id, &eventID, &patient, &kind, &channel, &status, &reason, &summary, &artifactID, &data, &sentAt, &readAt); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:                    id,
		EventID:               eventID,
		PatientHospitalNumber: patient,
		Kind:                  event.Kind(kind),
		Channel:               Channel(channel),
		Status:                Status(status),
		Reason:                reason,
		RenderedSummary:       summary,
		ArtifactID:            artifactID,
		SentAt:                sentAt,
		ReadAt:                readAt,
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return Record{}, fmt.Errorf("decode record data: %w", err)
		}
	}
	return rec, nil
}

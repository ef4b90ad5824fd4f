package notifylog

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/event"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type fakeRows struct {
	rows []fakeRow
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos-1].values, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return r.rows[r.pos-1].Scan(dest...) }

type fakeQuerier struct {
	execTags []string
	execErr  error
	execSQL  []string
	execArgs [][]any

	row      fakeRow
	rows     *fakeRows
	queryErr error
	pingErr  error
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execSQL = append(q.execSQL, sql)
	q.execArgs = append(q.execArgs, args)
	if q.execErr != nil {
		return pgconn.CommandTag{}, q.execErr
	}
	tag := q.execTags[0]
	q.execTags = q.execTags[1:]
	return pgconn.NewCommandTag(tag), nil
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.rows, nil
}

func (q *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row { return q.row }

func (q *fakeQuerier) Ping(context.Context) error { return q.pingErr }

func recordRow(id string, sentAt time.Time, readAt *time.Time) fakeRow {
	var read any
	if readAt != nil {
		read = readAt
	}
	return fakeRow{values: []any{
		id, "evt-1", "HN250001", "appointment_created", "in_app", "sent", "",
		"Appointment with Dr. A", "art-1", []byte(`{"doctor":"Dr. A"}`), sentAt, read,
	}}
}

func TestPostgresStoreAppend(t *testing.T) {
	q := &fakeQuerier{execTags: []string{"INSERT 0 1"}}
	store := &PostgresStore{db: q}

	rec := record("r1", "HN250001", ChannelInApp, time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC))
	rec.Kind = event.KindAppointmentCreated
	rec.Data = map[string]string{"doctor": "Dr. A"}
	require.NoError(t, store.Append(context.Background(), rec))

	require.Len(t, q.execArgs, 1)
	args := q.execArgs[0]
	assert.Equal(t, "r1", args[0])
	assert.Equal(t, "appointment_created", args[3])
	assert.Equal(t, "in_app", args[4])
	assert.JSONEq(t, `{"doctor":"Dr. A"}`, string(args[9].([]byte)))
}

func TestPostgresStoreAppendDuplicate(t *testing.T) {
	q := &fakeQuerier{execTags: []string{"INSERT 0 0"}}
	store := &PostgresStore{db: q}

	err := store.Append(context.Background(), record("r1", "HN1", ChannelSMS, time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateRecord)
}

func TestPostgresStoreAppendUnavailable(t *testing.T) {
	q := &fakeQuerier{execErr: errors.New("connection refused")}
	store := &PostgresStore{db: q}

	err := store.Append(context.Background(), record("r1", "HN1", ChannelSMS, time.Now()))
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}

func TestPostgresStoreGet(t *testing.T) {
	sentAt := time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC)
	q := &fakeQuerier{row: recordRow("r1", sentAt, nil)}
	store := &PostgresStore{db: q}

	got, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, ChannelInApp, got.Channel)
	assert.Equal(t, event.KindAppointmentCreated, got.Kind)
	assert.Equal(t, "Dr. A", got.Data["doctor"])
	assert.Nil(t, got.ReadAt)
	assert.True(t, got.SentAt.Equal(sentAt))
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	store := &PostgresStore{db: q}

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresStoreListByPatient(t *testing.T) {
	base := time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC)
	readAt := base.Add(time.Hour)
	q := &fakeQuerier{rows: &fakeRows{rows: []fakeRow{
		recordRow("r2", base.Add(time.Second), &readAt),
		recordRow("r1", base, nil),
	}}}
	store := &PostgresStore{db: q}

	got, err := store.ListByPatient(context.Background(), "HN250001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID)
	require.NotNil(t, got[0].ReadAt)
	assert.True(t, got[0].ReadAt.Equal(readAt))
}

func TestPostgresStoreListByPatientIterationError(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{err: errors.New("conn reset")}}
	store := &PostgresStore{db: q}

	_, err := store.ListByPatient(context.Background(), "HN1")
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}

func TestPostgresStoreMarkRead(t *testing.T) {
	cases := map[string]struct {
		tag     string
		exists  bool
		wantErr error
	}{
		"first read":   {tag: "UPDATE 1"},
		"already read": {tag: "UPDATE 0", exists: true},
		"unknown id":   {tag: "UPDATE 0", exists: false, wantErr: apperr.ErrNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q := &fakeQuerier{execTags: []string{tc.tag}, row: fakeRow{values: []any{tc.exists}}}
			store := &PostgresStore{db: q}

			err := store.MarkRead(context.Background(), "r1", time.Now())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPostgresStorePing(t *testing.T) {
	store := &PostgresStore{db: &fakeQuerier{pingErr: errors.New("down")}}
	assert.ErrorIs(t, store.Ping(context.Background()), apperr.ErrStorageUnavailable)
}

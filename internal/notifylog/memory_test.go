package notifylog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinical-notify/internal/apperr"
)

func record(id, hn string, channel Channel, sentAt time.Time) Record {
	return Record{
		ID:                    id,
		EventID:               "evt-" + id,
		PatientHospitalNumber: hn,
		Channel:               channel,
		Status:                StatusSent,
		SentAt:                sentAt,
		RenderedSummary:       "summary " + id,
	}
}

func TestMemoryStoreListsNewestFirstRegardlessOfArrival(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC)
	t1, t2, t3 := base, base.Add(time.Second), base.Add(2*time.Second)

	require.NoError(t, store.Append(ctx, record("r2", "HN1", ChannelSMS, t2)))
	require.NoError(t, store.Append(ctx, record("r1", "HN1", ChannelEmail, t1)))
	require.NoError(t, store.Append(ctx, record("r3", "HN1", ChannelInApp, t3)))
	require.NoError(t, store.Append(ctx, record("other", "HN2", ChannelInApp, t3)))

	got, err := store.ListByPatient(ctx, "HN1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestMemoryStoreMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Append(ctx, record("r1", "HN1", ChannelInApp, time.Now())))

	first := time.Date(2025, 9, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkRead(ctx, "r1", first))
	require.NoError(t, store.MarkRead(ctx, "r1", first.Add(time.Hour)))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)
	assert.True(t, got.ReadAt.Equal(first), "read_at must keep the first acknowledgement")
}

func TestMemoryStoreMarkReadUnknownOrNotInApp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Append(ctx, record("sms", "HN1", ChannelSMS, time.Now())))

	assert.ErrorIs(t, store.MarkRead(ctx, "missing", time.Now()), apperr.ErrNotFound)
	assert.ErrorIs(t, store.MarkRead(ctx, "sms", time.Now()), apperr.ErrNotFound)
}

func TestMemoryStoreRejectsDuplicateAndMissingIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Append(ctx, record("r1", "HN1", ChannelSMS, time.Now())))

	assert.ErrorIs(t, store.Append(ctx, record("r1", "HN1", ChannelSMS, time.Now())), ErrDuplicateRecord)
	assert.ErrorIs(t, store.Append(ctx, Record{PatientHospitalNumber: "HN1"}), ErrMissingID)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := record("r1", "HN1", ChannelInApp, time.Now())
	rec.Data = map[string]string{"doctor": "Dr. A"}
	require.NoError(t, store.Append(ctx, rec))

	rec.Data["doctor"] = "changed after append"
	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	got.Data["doctor"] = "changed after read"

	again, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. A", again.Data["doctor"])
}

func TestMemoryStoreUnavailableAfterClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Append(ctx, record("r1", "HN1", ChannelSMS, time.Now())), apperr.ErrStorageUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), apperr.ErrStorageUnavailable)
}

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(p, i int) {
				defer wg.Done()
				id := fmt.Sprintf("p%d-r%02d", p, i)
				_ = store.Append(ctx, record(id, fmt.Sprintf("HN%d", p), ChannelInApp, time.Now()))
			}(p, i)
		}
	}
	wg.Wait()

	for p := 0; p < 8; p++ {
		got, err := store.ListByPatient(ctx, fmt.Sprintf("HN%d", p))
		require.NoError(t, err)
		assert.Len(t, got, 25)
		for _, rec := range got {
			assert.Equal(t, fmt.Sprintf("HN%d", p), rec.PatientHospitalNumber)
		}
	}
}

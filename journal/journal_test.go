package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupJournalTestDB(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndListNewestFirst(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store := setupJournalTestDB(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Entry{Account: "0xAbC", Operation: "deposit", TxHash: "0x01", ValueWei: "1000"}))
	require.NoError(t, store.Record(ctx, Entry{Account: "0xabc", Operation: "buy_estate", TxHash: "0x02"}))
	require.NoError(t, store.Record(ctx, Entry{Account: "0xdef", Operation: "deposit", TxHash: "0x03"}))

	entries, err := store.List(ctx, " 0xABC ", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "0x02", entries[0].TxHash)
	require.Equal(t, "0", entries[0].ValueWei)
	require.Equal(t, "0x01", entries[1].TxHash)
	require.Equal(t, "1000", entries[1].ValueWei)
	require.NotEqual(t, uuid.Nil, entries[0].ID)
}

func TestRecordIsIdempotentPerTxHash(t *testing.T) {
	store := setupJournalTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Entry{Account: "0xabc", Operation: "deposit", TxHash: "0xFF"}))
	require.NoError(t, store.Record(ctx, Entry{Account: "0xabc", Operation: "deposit", TxHash: "0xff"}))

	entries, err := store.List(ctx, "0xabc", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRecordRequiresTxHash(t *testing.T) {
	store := setupJournalTestDB(t)
	err := store.Record(context.Background(), Entry{Account: "0xabc"})
	require.ErrorIs(t, err, ErrMissingTxHash)
}

func TestListLimit(t *testing.T) {
	store := setupJournalTestDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, Entry{Account: "0xabc", Operation: "deposit", TxHash: fmt.Sprintf("0x%02x", i)}))
	}
	entries, err := store.List(ctx, "0xabc", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestOpenValidatesDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)

	_, err = Open("sqlite", "  ")
	require.Error(t, err)

	store, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestNewRejectsNilHandle(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

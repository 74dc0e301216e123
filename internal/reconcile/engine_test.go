package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/store"
)

var passStart = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return passStart }

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) FetchOne(ctx context.Context, key model.ItemKey) model.Lookup {
	args := m.Called(ctx, key)
	return args.Get(0).(model.Lookup)
}

type mockBatchCatalog struct {
	mockCatalog
}

func (m *mockBatchCatalog) FetchMany(ctx context.Context, keys []model.ItemKey) []model.Lookup {
	args := m.Called(ctx, keys)
	return args.Get(0).([]model.Lookup)
}

// catalogFunc adapts a function to Catalog.
type catalogFunc func(ctx context.Context, key model.ItemKey) model.Lookup

func (f catalogFunc) FetchOne(ctx context.Context, key model.ItemKey) model.Lookup {
	return f(ctx, key)
}

// priceTable answers every lookup from a name to price map.
func priceTable(prices map[string]string) catalogFunc {
	return func(_ context.Context, key model.ItemKey) model.Lookup {
		p, ok := prices[key.Name]
		if !ok {
			return model.NotFound()
		}
		return found(key.Name, p)
	}
}

func found(name, p string) model.Lookup {
	return model.Found(model.ItemRecord{
		Name:      name,
		Price:     decimal.NewNullDecimal(decimal.RequireFromString(p)),
		PriceKind: model.PriceKindUSD,
	})
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "cardwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func add(t *testing.T, s store.Store, name, p string) {
	t.Helper()
	entry := model.NewEntry{Name: name, PriceKind: model.PriceKindUSD}
	if p != "" {
		entry.Price = decimal.NewNullDecimal(decimal.RequireFromString(p))
	}
	res, err := s.Add(context.Background(), entry)
	require.NoError(t, err)
	require.Equal(t, store.AddResultAdded, res)
}

func TestRun_EndToEndChange(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "5.00")

	e := New(s, priceTable(map[string]string{"Card A": "7.50"}), Config{Now: fixedNow})
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.PassID)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Updated)
	assert.Nil(t, res.CheckpointBefore)
	require.Len(t, res.Changed, 1)

	ch := res.Changed[0]
	assert.Equal(t, "Card A", ch.Name)
	assert.True(t, ch.OldPrice.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, ch.NewPrice.Equal(decimal.RequireFromString("7.50")))
	assert.True(t, ch.Delta.Equal(decimal.RequireFromString("2.50")))
	require.NotNil(t, ch.DeltaPct)
	assert.InDelta(t, 50.0, *ch.DeltaPct, 1e-9)
	assert.True(t, ch.Up())

	cp, err := s.Checkpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(passStart))

	entry, err := s.Get(context.Background(), "Card A")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.CurrentPrice.Decimal.Equal(decimal.RequireFromString("7.50")))
	assert.NotNil(t, entry.LastUpdated)

	hist, err := s.HistoryFor(context.Background(), "Card A", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestRun_EmptyWatchlistStillAdvancesCheckpoint(t *testing.T) {
	s := newTestStore(t)
	cat := &mockCatalog{}

	res, err := New(s, cat, Config{Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Checked)
	assert.Equal(t, 0, res.Updated)
	assert.Empty(t, res.Changed)
	cat.AssertNotCalled(t, "FetchOne", mock.Anything, mock.Anything)

	cp, err := s.Checkpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(passStart))
}

func TestRun_Thresholds(t *testing.T) {
	tests := []struct {
		name      string
		before    string
		after     string
		changed   bool
		wantDelta string
		wantPct   bool
	}{
		{"half a cent ignored", "10.00", "10.005", false, "", false},
		{"exactly one cent ignored", "10.00", "10.01", false, "", false},
		{"two cents reported", "10.00", "10.02", true, "0.02", true},
		{"drop reported", "4.00", "3.00", true, "-1", true},
		{"zero before has no percentage", "0.00", "0.02", true, "0.02", false},
		{"unchanged", "1.23", "1.23", false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			add(t, s, "Card", tt.before)

			res, err := New(s, priceTable(map[string]string{"Card": tt.after}), Config{Now: fixedNow}).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Updated)

			if !tt.changed {
				assert.Empty(t, res.Changed)
				return
			}
			require.Len(t, res.Changed, 1)
			assert.True(t, res.Changed[0].Delta.Equal(decimal.RequireFromString(tt.wantDelta)))
			if tt.wantPct {
				assert.NotNil(t, res.Changed[0].DeltaPct)
			} else {
				assert.Nil(t, res.Changed[0].DeltaPct)
			}
		})
	}
}

func TestRun_FirstPriceIsNotAChange(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "")
	add(t, s, "Card B", "")

	cat := priceTable(map[string]string{"Card A": "1.00", "Card B": "99.00"})
	res, err := New(s, cat, Config{Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 2, res.Updated)
	assert.Empty(t, res.Changed)

	cp, err := s.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestRun_SkipsNotFoundUnavailableAndUnpriced(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Gone", "1.00")
	add(t, s, "Flaky", "2.00")
	add(t, s, "Unpriced", "3.00")
	add(t, s, "Fine", "4.00")

	cat := &mockCatalog{}
	cat.On("FetchOne", mock.Anything, model.ItemKey{Name: "Gone"}).Return(model.NotFound())
	cat.On("FetchOne", mock.Anything, model.ItemKey{Name: "Flaky"}).Return(model.Unavailable(eris.New("timeout")))
	cat.On("FetchOne", mock.Anything, model.ItemKey{Name: "Unpriced"}).Return(model.Found(model.ItemRecord{Name: "Unpriced"}))
	cat.On("FetchOne", mock.Anything, model.ItemKey{Name: "Fine"}).Return(found("Fine", "8.00"))

	res, err := New(s, cat, Config{Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)
	cat.AssertExpectations(t)

	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"Flaky"}, res.Unavailable)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "Fine", res.Changed[0].Name)

	for _, name := range []string{"Gone", "Flaky", "Unpriced"} {
		hist, err := s.HistoryFor(context.Background(), name, 0)
		require.NoError(t, err)
		assert.Len(t, hist, 1, "%s must keep only its add-time observation", name)
	}
}

func TestRun_ChangesFollowSnapshotOrder(t *testing.T) {
	s := newTestStore(t)
	names := []string{"Delta", "Alpha", "Echo", "Charlie", "Bravo"}
	prices := map[string]string{}
	for _, n := range names {
		add(t, s, n, "1.00")
		prices[n] = "2.00"
	}

	res, err := New(s, priceTable(prices), Config{Workers: 4, Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)

	var got []string
	for _, ch := range res.Changed {
		got = append(got, ch.Name)
	}
	assert.Equal(t, []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"}, got)
}

func TestRun_UsesBatchCatalog(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")
	add(t, s, "Card B", "1.00")

	cat := &mockBatchCatalog{}
	cat.On("FetchMany", mock.Anything, []model.ItemKey{{Name: "Card A"}, {Name: "Card B"}}).
		Return([]model.Lookup{found("Card A", "1.50"), model.NotFound()}).Once()

	res, err := New(s, cat, Config{Batch: true, Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)
	cat.AssertExpectations(t)
	cat.AssertNotCalled(t, "FetchOne", mock.Anything, mock.Anything)

	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "Card A", res.Changed[0].Name)
}

func TestRun_BatchDisabledFansOut(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")

	cat := &mockBatchCatalog{}
	cat.On("FetchOne", mock.Anything, model.ItemKey{Name: "Card A"}).Return(found("Card A", "1.00"))

	_, err := New(s, cat, Config{Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)
	cat.AssertNotCalled(t, "FetchMany", mock.Anything, mock.Anything)
}

func TestRun_ShortBatchMarksAllUnavailable(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")
	add(t, s, "Card B", "1.00")

	cat := &mockBatchCatalog{}
	cat.On("FetchMany", mock.Anything, mock.Anything).Return([]model.Lookup{found("Card A", "5.00")})

	res, err := New(s, cat, Config{Batch: true, Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, []string{"Card A", "Card B"}, res.Unavailable)
}

// stallingBatch blocks every FetchMany until its context ends.
type stallingBatch struct {
	catalogFunc
	deadline time.Duration
}

func (b *stallingBatch) FetchMany(ctx context.Context, keys []model.ItemKey) []model.Lookup {
	if dl, ok := ctx.Deadline(); ok {
		b.deadline = time.Until(dl)
	}
	<-ctx.Done()
	out := make([]model.Lookup, len(keys))
	for i := range out {
		out[i] = model.Unavailable(ctx.Err())
	}
	return out
}

func TestRun_BatchTimeoutMarksAllUnavailable(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")
	add(t, s, "Card B", "1.00")

	cat := &stallingBatch{catalogFunc: priceTable(nil)}
	done := make(chan struct{})
	var (
		res *model.ReconciliationResult
		err error
	)
	go func() {
		defer close(done)
		res, err = New(s, cat, Config{Batch: true, ItemTimeout: 50 * time.Millisecond, Now: fixedNow}).
			Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not finish after the batch timeout")
	}
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, []string{"Card A", "Card B"}, res.Unavailable)

	cp, cerr := s.Checkpoint(context.Background())
	require.NoError(t, cerr)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(passStart))
}

func TestRun_BatchTimeoutScalesWithRequests(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		add(t, s, name, "1.00")
	}

	cat := &stallingBatch{catalogFunc: priceTable(nil)}
	_, err := New(s, cat, Config{Batch: true, BatchSize: 2, ItemTimeout: 100 * time.Millisecond, Now: fixedNow}).
		Run(context.Background())
	require.NoError(t, err)
	// Five keys in chunks of two make three requests.
	assert.Greater(t, cat.deadline, 200*time.Millisecond)
	assert.LessOrEqual(t, cat.deadline, 300*time.Millisecond)
}

func TestRun_ItemTimeoutSkipsEntry(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Slow", "1.00")
	add(t, s, "Quick", "1.00")

	cat := catalogFunc(func(ctx context.Context, key model.ItemKey) model.Lookup {
		if key.Name == "Slow" {
			<-ctx.Done()
			return model.Unavailable(ctx.Err())
		}
		return found(key.Name, "3.00")
	})

	res, err := New(s, cat, Config{ItemTimeout: 20 * time.Millisecond, Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"Slow"}, res.Unavailable)
}

func TestRun_EntryRemovedDuringPass(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")

	cat := catalogFunc(func(ctx context.Context, key model.ItemKey) model.Lookup {
		_, err := s.Remove(ctx, key.Name)
		assert.NoError(t, err)
		return found(key.Name, "9.00")
	})

	res, err := New(s, cat, Config{Now: fixedNow}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 0, res.Updated)
	assert.Empty(t, res.Changed)

	hist, err := s.HistoryFor(context.Background(), "Card A", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestRun_SecondPassReportsPreviousCheckpoint(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")

	now := passStart
	e := New(s, priceTable(map[string]string{"Card A": "1.00"}), Config{Now: func() time.Time { return now }})

	first, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, first.CheckpointBefore)

	now = passStart.Add(3 * time.Hour)
	second, err := e.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, second.CheckpointBefore)
	assert.True(t, second.CheckpointBefore.Equal(passStart))
	assert.NotEqual(t, first.PassID, second.PassID)
}

// failingStore fails SetPrice after the wrapped store has served the snapshot.
type failingStore struct {
	store.Store
}

func (f failingStore) SetPrice(context.Context, string, decimal.Decimal, model.PriceKind) (bool, decimal.NullDecimal, error) {
	return false, decimal.NullDecimal{}, eris.New("disk I/O error")
}

func TestRun_StoreFailureAbortsPass(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")

	res, err := New(failingStore{s}, priceTable(map[string]string{"Card A": "2.00"}), Config{Now: fixedNow}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "disk I/O error")

	cp, err := s.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp, "an aborted pass must not advance the checkpoint")
}

func TestRun_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")

	ctx, cancel := context.WithCancel(context.Background())
	cat := catalogFunc(func(context.Context, model.ItemKey) model.Lookup {
		cancel()
		return model.Unavailable(context.Canceled)
	})

	_, err := New(s, cat, Config{Now: fixedNow}).Run(ctx)
	require.Error(t, err)

	cp, err := s.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRun_PassesDoNotOverlap(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "Card A", "1.00")

	var inFlight, maxInFlight atomic.Int32
	cat := catalogFunc(func(_ context.Context, key model.ItemKey) model.Lookup {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return found(key.Name, "1.00")
	})

	e := New(s, cat, Config{Workers: 1, Now: fixedNow})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Run(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	hist, err := s.HistoryFor(context.Background(), "Card A", 100)
	require.NoError(t, err)
	assert.Len(t, hist, 5)
}

func TestDetectChange(t *testing.T) {
	d := decimal.RequireFromString

	_, ok := DetectChange("x", decimal.NullDecimal{}, d("5"), model.PriceKindUSD)
	assert.False(t, ok, "absent before is never a change")

	ch, ok := DetectChange("x", decimal.NewNullDecimal(d("8.00")), d("6.00"), model.PriceKindEUR)
	require.True(t, ok)
	assert.False(t, ch.Up())
	assert.Equal(t, model.PriceKindEUR, ch.PriceKind)
	require.NotNil(t, ch.DeltaPct)
	assert.InDelta(t, -25.0, *ch.DeltaPct, 1e-9)

	ch, ok = DetectChange("x", decimal.NewNullDecimal(d("-1.00")), d("1.00"), model.PriceKindUSD)
	require.True(t, ok, "negative prices are reported as-is")
	require.NotNil(t, ch.DeltaPct)
	assert.InDelta(t, -200.0, *ch.DeltaPct, 1e-9)
}

func TestChangeThreshold_IsFixed(t *testing.T) {
	assert.True(t, ChangeThreshold().Equal(decimal.RequireFromString("0.01")))

	_, ok := DetectChange("x", decimal.NewNullDecimal(decimal.RequireFromString("10.00")),
		decimal.RequireFromString("10.01"), model.PriceKindUSD)
	assert.False(t, ok)
}

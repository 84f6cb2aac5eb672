package inferrecovery_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ir "github.com/ineyio/inferrecovery"
	"github.com/ineyio/inferrecovery/store"
	"github.com/ineyio/inferrecovery/store/mock"
)

func seedMetric(t *testing.T, st ir.Store, kind ir.ErrorKind, day time.Time, n int64) {
	t.Helper()
	require.NoError(t, st.SetWithExpiry(context.Background(), ir.MetricsKey(kind, day), n, 48*time.Hour))
}

func TestStatsRange_Days(t *testing.T) {
	assert.Equal(t, 1, ir.RangeDay.Days())
	assert.Equal(t, 7, ir.RangeWeek.Days())
	assert.Equal(t, 30, ir.RangeMonth.Days())
	assert.Equal(t, 1, ir.StatsRange("year").Days())
}

func TestGetErrorStatistics_Ranges(t *testing.T) {
	st := store.NewMemoryStore()
	o := newTestOrchestrator(t, st)
	ctx := context.Background()

	seedMetric(t, st, ir.KindNetworkError, testNow, 3)
	seedMetric(t, st, ir.KindNetworkError, testNow.AddDate(0, 0, -1), 2)
	seedMetric(t, st, ir.KindTimeout, testNow.AddDate(0, 0, -6), 4)
	seedMetric(t, st, ir.KindQuotaExceeded, testNow.AddDate(0, 0, -20), 1)
	seedMetric(t, st, ir.KindCacheError, testNow.AddDate(0, 0, -30), 9)

	assert.Equal(t, map[ir.ErrorKind]int{
		ir.KindNetworkError: 3,
	}, o.GetErrorStatistics(ctx, ir.RangeDay))

	assert.Equal(t, map[ir.ErrorKind]int{
		ir.KindNetworkError: 5,
		ir.KindTimeout:      4,
	}, o.GetErrorStatistics(ctx, ir.RangeWeek))

	assert.Equal(t, map[ir.ErrorKind]int{
		ir.KindNetworkError:  5,
		ir.KindTimeout:       4,
		ir.KindQuotaExceeded: 1,
	}, o.GetErrorStatistics(ctx, ir.RangeMonth))
}

func TestGetErrorStatistics_CountsHandledErrors(t *testing.T) {
	st := store.NewMemoryStore()
	o := newTestOrchestrator(t, st)
	ctx := context.Background()

	o.HandleError(ctx, errString("Quota exceeded"), "op-1", "u", "a", 1)
	o.HandleError(ctx, errString("Quota exceeded"), "op-2", "u", "a", 1)
	o.HandleError(ctx, errString("Network error"), "op-3", "u", "a", 1)

	assert.Equal(t, map[ir.ErrorKind]int{
		ir.KindQuotaExceeded: 2,
		ir.KindNetworkError:  1,
	}, o.GetErrorStatistics(ctx, ir.RangeDay))
}

func TestGetErrorStatistics_EmptyOnReadFailure(t *testing.T) {
	st := mock.New(mock.WithFailOn(mock.OpGet))
	o := newTestOrchestrator(t, st)

	stats := o.GetErrorStatistics(context.Background(), ir.RangeWeek)
	assert.NotNil(t, stats)
	assert.Empty(t, stats)
}

func TestGetErrorStatistics_NoPartialResult(t *testing.T) {
	// The first reads succeed, later ones fail.
	st := mock.New(mock.WithFailAfter(3))
	seedMetric(t, st.Memory(), ir.KindRateLimitExceeded, testNow, 7)
	o := newTestOrchestrator(t, st)

	assert.Empty(t, o.GetErrorStatistics(context.Background(), ir.RangeWeek))
}

// countingStore records how statistics are read.
type countingStore struct {
	*store.MemoryStore
	batches atomic.Int64
	gets    atomic.Int64
}

func (s *countingStore) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	s.gets.Add(1)
	return s.MemoryStore.GetJSON(ctx, key, dst)
}

func (s *countingStore) GetCounts(ctx context.Context, keys []string) ([]int64, error) {
	s.batches.Add(1)
	return s.MemoryStore.GetCounts(ctx, keys)
}

func TestGetErrorStatistics_BatchedRead(t *testing.T) {
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	seedMetric(t, st, ir.KindNetworkError, testNow, 3)
	seedMetric(t, st, ir.KindTimeout, testNow.AddDate(0, 0, -29), 2)
	o := newTestOrchestrator(t, st)

	stats := o.GetErrorStatistics(context.Background(), ir.RangeMonth)
	assert.Equal(t, map[ir.ErrorKind]int{
		ir.KindNetworkError: 3,
		ir.KindTimeout:      2,
	}, stats)
	assert.Equal(t, int64(1), st.batches.Load())
	assert.Zero(t, st.gets.Load())
}

func TestGetErrorStatistics_BatchedMatchesPerKey(t *testing.T) {
	mem := store.NewMemoryStore()
	for i, kind := range ir.AllErrorKinds() {
		seedMetric(t, mem, kind, testNow.AddDate(0, 0, -i), int64(i+1))
	}
	perKey := mock.New(mock.WithMemoryStore(mem))

	for _, r := range []ir.StatsRange{ir.RangeDay, ir.RangeWeek, ir.RangeMonth} {
		batched := newTestOrchestrator(t, mem).GetErrorStatistics(context.Background(), r)
		assert.Equal(t, batched, newTestOrchestrator(t, perKey).GetErrorStatistics(context.Background(), r), r)
	}
	assert.Equal(t, len(ir.AllErrorKinds())*(1+7+30), perKey.OpCount(mock.OpGet))
}

func TestGetErrorStatistics_EmptyOnBatchFailure(t *testing.T) {
	st := store.NewGuarded(mock.New(mock.WithFailOn(mock.OpGet)))
	o := newTestOrchestrator(t, st)

	assert.Empty(t, o.GetErrorStatistics(context.Background(), ir.RangeMonth))
}

type errString string

func (e errString) Error() string { return string(e) }

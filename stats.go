package inferrecovery

import "context"

// StatsRange is the window aggregated by GetErrorStatistics.
type StatsRange string

const (
	RangeDay   StatsRange = "day"
	RangeWeek  StatsRange = "week"
	RangeMonth StatsRange = "month"
)

// Days returns the number of UTC days the range covers. Unknown ranges cover one day.
func (r StatsRange) Days() int {
	switch r {
	case RangeWeek:
		return 7
	case RangeMonth:
		return 30
	default:
		return 1
	}
}

// GetErrorStatistics sums the daily failure counters of every kind over the
// range, ending today (UTC). Kinds with no failures are omitted. If any read
// fails the result is empty rather than partial.
//
// The query touches one key per kind and day, 480 keys for RangeMonth. Stores
// implementing CountReader serve them in a single bounded call; other stores
// are read key by key, each read bounded by the store timeout.
func (o *Orchestrator) GetErrorStatistics(ctx context.Context, r StatsRange) map[ErrorKind]int {
	today := o.now().UTC()
	days := r.Days()

	keys := make([]string, 0, len(allKinds)*days)
	for _, kind := range allKinds {
		for i := 0; i < days; i++ {
			keys = append(keys, MetricsKey(kind, today.AddDate(0, 0, -i)))
		}
	}

	counts, err := o.readCounts(ctx, keys)
	if err != nil {
		o.logger.Warn("recovery: read statistics failed", "range", r, "error", err)
		return map[ErrorKind]int{}
	}

	stats := make(map[ErrorKind]int)
	for i, n := range counts {
		if n > 0 {
			stats[allKinds[i/days]] += int(n)
		}
	}
	return stats
}

func (o *Orchestrator) readCounts(ctx context.Context, keys []string) ([]int64, error) {
	if cr, ok := o.store.(CountReader); ok {
		ctx, cancel := o.bound(ctx)
		defer cancel()
		return cr.GetCounts(ctx, keys)
	}

	counts := make([]int64, len(keys))
	for i, key := range keys {
		n, err := o.readCount(ctx, key)
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}
	return counts, nil
}

func (o *Orchestrator) readCount(ctx context.Context, key string) (int64, error) {
	ctx, cancel := o.bound(ctx)
	defer cancel()

	count, err := GetJSON[int64](ctx, o.store, key)
	if err != nil || count == nil {
		return 0, err
	}
	return *count, nil
}

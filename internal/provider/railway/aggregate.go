package railway

import (
	"context"
	"log/slog"
	"time"
)

// Fetcher queries availability for one date. *Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, origin, destination string, date time.Time) (*AvailabilityResponse, error)
}

// Query describes a multi-day availability search.
type Query struct {
	Origin      string
	Destination string
	From        time.Time // inclusive calendar day
	To          time.Time // inclusive calendar day
	MinSeats    int
	Brands      BrandSet
}

// Aggregator expands a date range into sequential per-day fetches.
type Aggregator struct {
	fetcher Fetcher
	delay   time.Duration
	sleep   SleepFunc
	logger  *slog.Logger
}

// NewAggregator creates an aggregator that waits delay between the end of one
// day's call and the start of the next. sleep may be nil.
func NewAggregator(fetcher Fetcher, delay time.Duration, sleep SleepFunc, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if sleep == nil {
		sleep = SleepContext
	}
	return &Aggregator{fetcher: fetcher, delay: delay, sleep: sleep, logger: logger}
}

// FetchRange returns the trains matching q across [q.From, q.To], deduplicated
// by train number with the first occurrence kept.
//
// A day that fails contributes nothing; the range continues. The only error
// returned is ctx's, when it is cancelled mid-range.
func (a *Aggregator) FetchRange(ctx context.Context, q Query) ([]TrainInfo, error) {
	var (
		out  []TrainInfo
		seen = make(map[string]struct{})
	)

	for day, first := q.From, true; !day.After(q.To); day, first = day.AddDate(0, 0, 1), false {
		if !first {
			if err := a.sleep(ctx, a.delay); err != nil {
				return out, err
			}
		}

		resp, err := a.fetcher.Fetch(ctx, q.Origin, q.Destination, day)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			a.logger.Warn("Availability fetch failed for date",
				"from", q.Origin, "to", q.Destination,
				"date", day.Format(time.DateOnly),
				"kind", KindOf(err), "error", err)
			continue
		}

		for _, t := range ExtractTrains(resp, q.MinSeats, q.Brands) {
			if _, dup := seen[t.TrainNumber]; dup {
				continue
			}
			seen[t.TrainNumber] = struct{}{}
			out = append(out, t)
		}
	}

	return out, nil
}

// Package aggregate buckets canonical readings within one sync request and
// combines duplicates by sum or average.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/septivank/health-sync-worker/internal/metric"
	"github.com/septivank/health-sync-worker/tools/timeparser"
)

// Combination selects how readings sharing a bucket are merged.
type Combination int

const (
	Average Combination = iota
	Sum
)

func (c Combination) String() string {
	if c == Sum {
		return "sum"
	}
	return "average"
}

// Reading is one normalized sample entering the aggregator.
type Reading struct {
	MetricType string
	Source     string
	Unit       string
	Value      float64
	RecordedAt time.Time
	// LocalDate is the calendar date exactly as the exporter wrote it.
	LocalDate string
}

// Policy describes bucketing and combination for one entry pipeline.
type Policy struct {
	Name    string
	Bucket  func(Reading) (time.Time, error)
	Combine func(metricType string) Combination
	// Round rounds finalized values to whole numbers.
	Round bool
}

// ScalarPolicy keeps exact timestamps, except step counts which are floored
// to the minute. Exporters emit fractional per-second step values that
// overcount when summed at a finer grain.
var ScalarPolicy = Policy{
	Name: "scalar",
	Bucket: func(r Reading) (time.Time, error) {
		if r.RecordedAt.IsZero() {
			return time.Time{}, fmt.Errorf("reading has no timestamp")
		}
		if metric.IsStepCount(r.MetricType) {
			return timeparser.FloorMinute(r.RecordedAt), nil
		}
		return r.RecordedAt, nil
	},
	Combine: func(metricType string) Combination {
		if metric.IsSummed(metricType) {
			return Sum
		}
		return Average
	},
}

// DailyRollupPolicy sums hourly values into one bucket per local calendar
// day, stamped at midday UTC so the bucket never straddles a date boundary.
var DailyRollupPolicy = Policy{
	Name: "daily_rollup",
	Bucket: func(r Reading) (time.Time, error) {
		if r.LocalDate == "" {
			return time.Time{}, fmt.Errorf("reading has no local date")
		}
		return timeparser.MiddayUTC(r.LocalDate)
	},
	Combine: func(string) Combination { return Sum },
	Round:   true,
}

// Bucket is a finalized aggregate.
type Bucket struct {
	MetricType string
	Source     string
	Unit       string
	Value      float64
	RecordedAt time.Time
	Count      int
}

type bucketKey struct {
	metricType string
	source     string
	at         int64
}

type accumulator struct {
	sum   float64
	count int
	unit  string
	at    time.Time
}

// Aggregator is a per-request keyed accumulator. It is not safe for
// concurrent use and is discarded after Buckets is called.
type Aggregator struct {
	policy  Policy
	buckets map[bucketKey]*accumulator
}

// New creates an aggregator for the given policy.
func New(policy Policy) *Aggregator {
	return &Aggregator{
		policy:  policy,
		buckets: make(map[bucketKey]*accumulator),
	}
}

// Add places a reading into its bucket.
func (a *Aggregator) Add(r Reading) error {
	at, err := a.policy.Bucket(r)
	if err != nil {
		return err
	}
	at = at.UTC()

	k := bucketKey{metricType: r.MetricType, source: r.Source, at: at.UnixNano()}
	acc, ok := a.buckets[k]
	if !ok {
		acc = &accumulator{unit: r.Unit, at: at}
		a.buckets[k] = acc
	}
	acc.sum += r.Value
	acc.count++
	return nil
}

// Len returns the number of open buckets.
func (a *Aggregator) Len() int {
	return len(a.buckets)
}

// Buckets finalizes every bucket, ordered by metric, source and time.
// Averages divide the running sum by the contributing count only here.
func (a *Aggregator) Buckets() []Bucket {
	out := make([]Bucket, 0, len(a.buckets))
	for k, acc := range a.buckets {
		value := acc.sum
		if a.policy.Combine(k.metricType) == Average {
			value = acc.sum / float64(acc.count)
		}
		if a.policy.Round {
			value = math.Round(value)
		}
		out = append(out, Bucket{
			MetricType: k.metricType,
			Source:     k.source,
			Unit:       acc.unit,
			Value:      value,
			RecordedAt: acc.at,
			Count:      acc.count,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MetricType != out[j].MetricType {
			return out[i].MetricType < out[j].MetricType
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out
}

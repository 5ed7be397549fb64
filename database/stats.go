package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Stats is a snapshot of a connection's execution statistics.
type Stats struct {
	Count uint64
	Time  time.Duration
}

// Sample describes one completed execute attempt.
type Sample struct {
	ID      string
	StmtID  string
	At      time.Time
	SQL     string
	Elapsed time.Duration
	Err     error

	stmt *Stmt
}

// ReconstructedSQL renders the sampled statement with its bindings at the time
// of the call.
func (s Sample) ReconstructedSQL() string {
	if s.stmt == nil {
		return s.SQL
	}
	return s.stmt.ReconstructSQL(nil)
}

// Observer is notified after every sample a connection records.
type Observer interface {
	ObserveSample(ctx context.Context, sample Sample)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, sample Sample)

func (f ObserverFunc) ObserveSample(ctx context.Context, sample Sample) {
	f(ctx, sample)
}

type statistics struct {
	count atomic.Uint64
	nanos atomic.Int64
}

// recordSample is the only way statistics move. It is called once per
// execute attempt, by the statement that made it.
func (c *Conn) recordSample(ctx context.Context, s *Stmt, at time.Time, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	c.stats.count.Add(1)
	c.stats.nanos.Add(int64(elapsed))

	if c.observer == nil {
		return
	}
	c.observer.ObserveSample(ctx, Sample{
		ID:      uuid.NewString(),
		StmtID:  s.id,
		At:      at,
		SQL:     s.sql,
		Elapsed: elapsed,
		Err:     s.err,
		stmt:    s,
	})
}

// StatisticCount is the number of execute attempts made on this connection.
func (c *Conn) StatisticCount() uint64 {
	return c.stats.count.Load()
}

// StatisticTime is the cumulative time spent in execute attempts.
func (c *Conn) StatisticTime() time.Duration {
	return time.Duration(c.stats.nanos.Load())
}

// Stats returns both statistics together.
func (c *Conn) Stats() Stats {
	return Stats{Count: c.StatisticCount(), Time: c.StatisticTime()}
}

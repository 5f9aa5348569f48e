package store

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultQueueSize = 4096

// writeJob is one deferred database mutation.
type writeJob struct {
	name string
	run  func(db *gorm.DB) error
}

// writeQueue drains deferred writes on a single background goroutine so
// request handlers never wait on SQLite. Failed jobs are logged and
// recorded as gateway events best-effort; they are not retried.
type writeQueue struct {
	db     *gorm.DB
	jobs   chan writeJob
	gauge  Gauge
	logger *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newWriteQueue(db *gorm.DB, size int, gauge Gauge, logger *zap.Logger) *writeQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &writeQueue{
		db:     db,
		jobs:   make(chan writeJob, size),
		gauge:  gauge,
		logger: logger,
		done:   make(chan struct{}),
	}
	go q.drain()
	return q
}

func (q *writeQueue) enqueue(name string, run func(db *gorm.DB) error) {
	q.jobs <- writeJob{name: name, run: run}
	if q.gauge != nil {
		q.gauge.Set(float64(len(q.jobs)))
	}
}

func (q *writeQueue) drain() {
	defer close(q.done)
	for job := range q.jobs {
		if err := job.run(q.db); err != nil {
			q.logger.Error("async write failed",
				zap.String("job", job.name),
				zap.Error(err),
			)
			q.recordFailure(job.name, err)
		}
		if q.gauge != nil {
			q.gauge.Set(float64(len(q.jobs)))
		}
	}
}

// recordFailure writes a storage event directly, outside the queue. A
// failure here is swallowed: the server log already carries the error.
func (q *writeQueue) recordFailure(jobName string, cause error) {
	ev := &GatewayEvent{
		Timestamp: time.Now().UnixMilli(),
		Level:     EventLevelError,
		Type:      EventTypeStorage,
		Source:    "write-queue",
		Title:     "async write failed",
		Message:   cause.Error(),
		Detail:    jobName,
	}
	_ = q.db.Create(ev).Error
}

// close stops accepting jobs and waits for the backlog to drain.
func (q *writeQueue) close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
	<-q.done
}

// Enqueue schedules an arbitrary mutation on the write queue. Exposed for
// collaborators (key registry usage counters) that share the queue.
func (s *Store) Enqueue(name string, run func(db *gorm.DB) error) {
	s.queue.enqueue(name, run)
}

// QueueDepth reports the number of pending writes.
func (s *Store) QueueDepth() int { return len(s.queue.jobs) }

// Flush blocks until every job enqueued before the call has drained. Test
// helper; the server never waits on the queue.
func (s *Store) Flush() {
	signal := make(chan struct{})
	s.queue.enqueue("flush", func(*gorm.DB) error {
		close(signal)
		return nil
	})
	<-signal
}

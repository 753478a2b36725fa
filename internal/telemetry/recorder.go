package telemetry

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// recorderQueueCapacity bounds how many attempt records can be in flight to
// the database at once; a slow database degrades to dropped telemetry
// rather than unbounded memory growth or backpressure onto request handling.
const recorderQueueCapacity = 1024

// Recorder enqueues attempt records for asynchronous insertion. A nil sink
// (no database configured) makes every enqueue a no-op.
type Recorder struct {
	sink  *Sink
	queue chan AttemptRecord
	done  chan struct{}
}

// NewRecorder starts a background worker draining into sink. sink may be
// nil, in which case Enqueue silently discards every record.
func NewRecorder(sink *Sink) *Recorder {
	r := &Recorder{
		sink:  sink,
		queue: make(chan AttemptRecord, recorderQueueCapacity),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Enqueue hands rec off for background insertion. Never blocks the caller:
// a full queue drops the record with a log line rather than stalling the
// request that produced it.
func (r *Recorder) Enqueue(rec AttemptRecord) {
	if r == nil || r.sink == nil {
		return
	}
	select {
	case r.queue <- rec:
	default:
		log.Warn("telemetry: recorder queue full, dropping attempt record")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	ctx := context.Background()
	for rec := range r.queue {
		r.sink.Insert(ctx, rec)
	}
}

// Close stops accepting new records and waits for the queue to drain.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	close(r.queue)
	<-r.done
}

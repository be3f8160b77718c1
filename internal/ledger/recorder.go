package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/logging"
	"github.com/zulandar/lifeline/internal/models"
)

// ErrRecorderClosed is returned by Record after Drain has been called.
var ErrRecorderClosed = errors.New("ledger: recorder closed")

// Appender persists one transcript entry. *Ledger implements it.
type Appender interface {
	AppendTranscript(ctx context.Context, sessionID, speaker, content string) (models.TranscriptEntry, error)
}

// RecorderOpts holds parameters for NewRecorder.
type RecorderOpts struct {
	Appender  Appender
	Logger    logrus.FieldLogger
	QueueSize int // default 256
}

type appendJob struct {
	sessionID string
	speaker   string
	content   string
}

// Recorder appends transcript entries in the background. Jobs go through a
// bounded queue consumed by a single worker, so entries for a session are
// written in the order they were recorded. Drain is the shutdown point: it
// stops intake and waits for every queued entry.
type Recorder struct {
	app Appender
	log logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	queue  chan appendJob
	done   chan struct{}
}

// NewRecorder creates a Recorder and starts its worker.
func NewRecorder(opts RecorderOpts) (*Recorder, error) {
	if opts.Appender == nil {
		return nil, fmt.Errorf("ledger: recorder appender is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	r := &Recorder{
		app:   opts.Appender,
		log:   logging.OrDiscard(opts.Logger).WithField("component", "recorder"),
		queue: make(chan appendJob, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Record schedules an append. It returns once the entry is queued, blocking
// only while the queue is full. ctx bounds that wait, not the insert.
func (r *Recorder) Record(ctx context.Context, sessionID, speaker, content string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRecorderClosed
	}
	select {
	case r.queue <- appendJob{sessionID: sessionID, speaker: speaker, content: content}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued entries not yet written.
func (r *Recorder) Pending() int {
	return len(r.queue)
}

// Drain stops accepting entries and waits until every queued entry has been
// written or ctx ends. Safe to call more than once.
func (r *Recorder) Drain(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.log.WithField("pending", len(r.queue)).Warn("ledger: drain interrupted")
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for job := range r.queue {
		r.write(job)
	}
}

// write appends one entry. Failures, panics included, are logged and
// dropped so the worker keeps going.
func (r *Recorder) write(job appendJob) {
	log := r.log.WithFields(logrus.Fields{
		"session_id":   job.sessionID,
		"speaker_type": job.speaker,
	})
	defer func() {
		if p := recover(); p != nil {
			logging.WithStack(log).WithField("panic", p).Error("ledger: transcript append panicked")
		}
	}()

	if _, err := r.app.AppendTranscript(context.Background(), job.sessionID, job.speaker, job.content); err != nil {
		log.WithError(err).Warn("ledger: transcript append failed")
		return
	}
	log.Debug("ledger: transcript entry recorded")
}

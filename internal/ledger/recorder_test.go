package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/zulandar/lifeline/internal/models"
	"github.com/zulandar/lifeline/internal/testutil"
)

// gateAppender blocks each append until release is closed.
type gateAppender struct {
	release chan struct{}
	started chan struct{}

	mu    sync.Mutex
	calls []string
	fail  map[string]error
	panic string
}

func newGateAppender() *gateAppender {
	return &gateAppender{
		release: make(chan struct{}),
		started: make(chan struct{}, 64),
		fail:    make(map[string]error),
	}
}

func (g *gateAppender) AppendTranscript(ctx context.Context, sessionID, speaker, content string) (models.TranscriptEntry, error) {
	g.started <- struct{}{}
	<-g.release
	g.mu.Lock()
	g.calls = append(g.calls, content)
	err := g.fail[content]
	g.mu.Unlock()
	if content == g.panic {
		panic("boom")
	}
	return models.TranscriptEntry{Content: content}, err
}

func (g *gateAppender) recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func TestNewRecorder_RequiresAppender(t *testing.T) {
	if _, err := NewRecorder(RecorderOpts{}); err == nil {
		t.Fatal("expected error for nil appender")
	}
}

func TestRecorder_RecordDoesNotWaitForInsert(t *testing.T) {
	app := newGateAppender()
	r, err := NewRecorder(RecorderOpts{Appender: app, QueueSize: 4})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Record(context.Background(), "s-1", models.SpeakerCaller, "hello") }()
	if err := testutil.RequireReceive(t, done, 2*time.Second, "recording while insert is blocked"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	close(app.release)
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := app.recorded(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("recorded = %v", got)
	}
}

func TestRecorder_DrainWaitsForQueuedEntries(t *testing.T) {
	app := newGateAppender()
	r, _ := NewRecorder(RecorderOpts{Appender: app, QueueSize: 16})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := r.Record(ctx, "s-1", models.SpeakerAgent, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- r.Drain(ctx) }()

	select {
	case <-drained:
		t.Fatal("Drain returned while appends were still blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(app.release)
	if err := testutil.RequireReceive(t, drained, 2*time.Second, "draining"); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	got := app.recorded()
	if len(got) != 5 {
		t.Fatalf("recorded %d entries, want 5", len(got))
	}
	for i, c := range got {
		if want := fmt.Sprintf("line %d", i); c != want {
			t.Errorf("entry %d = %q, want %q", i, c, want)
		}
	}
}

func TestRecorder_RecordAfterDrain(t *testing.T) {
	app := newGateAppender()
	close(app.release)
	r, _ := NewRecorder(RecorderOpts{Appender: app})

	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	err := r.Record(context.Background(), "s-1", models.SpeakerCaller, "late")
	if !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("err = %v, want ErrRecorderClosed", err)
	}
}

func TestRecorder_FullQueueHonoursContext(t *testing.T) {
	app := newGateAppender()
	r, _ := NewRecorder(RecorderOpts{Appender: app, QueueSize: 1})
	defer func() {
		close(app.release)
		r.Drain(context.Background())
	}()

	bg := context.Background()
	// First entry is taken by the worker, second fills the queue.
	r.Record(bg, "s-1", models.SpeakerCaller, "one")
	testutil.RequireReceive(t, app.started, 2*time.Second, "waiting for worker")
	r.Record(bg, "s-1", models.SpeakerCaller, "two")

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	if err := r.Record(ctx, "s-1", models.SpeakerCaller, "three"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", r.Pending())
	}
}

func TestRecorder_FailuresAreSwallowed(t *testing.T) {
	app := newGateAppender()
	app.fail["bad"] = errors.New("insert failed")
	app.panic = "explode"
	close(app.release)

	logger, hook := test.NewNullLogger()
	r, _ := NewRecorder(RecorderOpts{Appender: app, Logger: logger})
	ctx := context.Background()
	for _, c := range []string{"bad", "explode", "good"} {
		if err := r.Record(ctx, "s-1", models.SpeakerCaller, c); err != nil {
			t.Fatalf("Record(%q): %v", c, err)
		}
	}
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if got := app.recorded(); len(got) != 3 || got[2] != "good" {
		t.Errorf("recorded = %v, want worker to survive failures", got)
	}
	var failed, panicked bool
	for _, e := range hook.AllEntries() {
		switch e.Message {
		case "ledger: transcript append failed":
			failed = true
		case "ledger: transcript append panicked":
			panicked = true
			if _, ok := e.Data["stack"]; !ok {
				t.Error("panic logged without stack")
			}
		}
	}
	if !failed || !panicked {
		t.Errorf("failed logged = %v, panic logged = %v; want both", failed, panicked)
	}
}

func TestRecorder_WithLedger(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	id := mustSucceed(t, l.Upsert(ctx, "", Fields{})).SessionID

	r, err := NewRecorder(RecorderOpts{Appender: l, QueueSize: 8})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for i := 0; i < 20; i++ {
		speaker := models.SpeakerCaller
		if i%2 == 1 {
			speaker = models.SpeakerAgent
		}
		if err := r.Record(ctx, id, speaker, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	r.Record(ctx, "missing-session", models.SpeakerCaller, "dropped")
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	entries, err := l.Transcript(ctx, id)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("entries = %d, want 20", len(entries))
	}
	for i, e := range entries {
		if want := fmt.Sprintf("turn %d", i); e.Content != want {
			t.Errorf("entry %d = %q, want %q", i, e.Content, want)
		}
	}
}

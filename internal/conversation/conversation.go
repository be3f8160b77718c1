// Package conversation is the per-call core driven by a voice front end. It
// owns the call's current session handle, runs the model's tool calls
// against the ledger and dispatcher, and turns speech events into transcript
// entries.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/dispatch"
	"github.com/zulandar/lifeline/internal/ledger"
	"github.com/zulandar/lifeline/internal/logging"
	"github.com/zulandar/lifeline/internal/models"
)

// Sessions is the ledger surface a conversation needs.
type Sessions interface {
	Bootstrap(ctx context.Context) (string, error)
	Create(ctx context.Context, f ledger.Fields, supersedes string) ledger.Result
	Update(ctx context.Context, id string, f ledger.Fields) ledger.Result
}

// Dispatcher is the dispatch surface a conversation needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, current string, req dispatch.Request) dispatch.Result
}

// Recorder schedules transcript appends without waiting for them.
type Recorder interface {
	Record(ctx context.Context, sessionID, speaker, content string) error
}

// EventKind identifies a speech event raised by the front end.
type EventKind string

const (
	// CallerSpeechCommitted fires when the caller's utterance is final.
	CallerSpeechCommitted EventKind = "user_speech_committed"
	// AgentSpeechFinished fires when the agent stops speaking.
	AgentSpeechFinished EventKind = "agent_stopped_speaking"
)

// Event is a speech event. Content is the utterance text.
type Event struct {
	Kind    EventKind `json:"kind"`
	Content string    `json:"content"`
}

// Opts holds parameters for New.
type Opts struct {
	Sessions   Sessions
	Dispatcher Dispatcher
	Recorder   Recorder
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

// Conversation is the state of one call.
type Conversation struct {
	sessions   Sessions
	dispatcher Dispatcher
	recorder   Recorder
	log        logrus.FieldLogger
	now        func() time.Time

	// toolMu serializes tool calls so the handle is read and replaced as
	// one step.
	toolMu sync.Mutex

	mu        sync.RWMutex
	sessionID string
}

// New creates a Conversation with no session.
func New(opts Opts) (*Conversation, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("conversation: sessions are required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("conversation: dispatcher is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("conversation: recorder is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Conversation{
		sessions:   opts.Sessions,
		dispatcher: opts.Dispatcher,
		recorder:   opts.Recorder,
		log:        logging.OrDiscard(opts.Logger).WithField("component", "conversation"),
		now:        opts.Now,
	}, nil
}

// SessionID returns the current session handle, or "" when there is none.
func (c *Conversation) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Conversation) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Start creates the placeholder session for the call. On failure the
// conversation carries on without a handle and the first session tool call
// creates one.
func (c *Conversation) Start(ctx context.Context) string {
	id, err := c.sessions.Bootstrap(ctx)
	if err != nil {
		c.log.WithError(err).Error("conversation: placeholder session failed, will create on first tool call")
		return ""
	}
	c.setSession(id)
	c.log.WithField("session_id", id).Info("conversation: call started")
	return id
}

// UpsertSession records the supplied emergency details. With a handle the
// session is updated; if that fails the handle is dropped and a new session
// is created in its place.
func (c *Conversation) UpsertSession(ctx context.Context, f ledger.Fields) ledger.Result {
	c.toolMu.Lock()
	defer c.toolMu.Unlock()

	current := c.SessionID()
	if current != "" {
		res := c.sessions.Update(ctx, current, f)
		if res.Success {
			c.record(ctx, current, models.SpeakerSystem,
				"Enhanced session with additional details at "+c.now().UTC().Format(time.RFC3339))
			return res
		}
		c.log.WithFields(logrus.Fields{
			"session_id": current,
			"error":      res.Error,
		}).Warn("conversation: update failed, replacing session")
		c.setSession("")
	}

	res := c.sessions.Create(ctx, f, current)
	if res.Success {
		c.setSession(res.SessionID)
	}
	return res
}

// DispatchResponder dispatches against the current session unless the
// request names one.
func (c *Conversation) DispatchResponder(ctx context.Context, req dispatch.Request) dispatch.Result {
	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	return c.dispatcher.Dispatch(ctx, c.SessionID(), req)
}

// HandleEvent appends the utterance to the transcript as CALLER or AGENT.
// Events are skipped when there is no session or the content is blank.
func (c *Conversation) HandleEvent(ctx context.Context, ev Event) {
	var speaker string
	switch ev.Kind {
	case CallerSpeechCommitted:
		speaker = models.SpeakerCaller
	case AgentSpeechFinished:
		speaker = models.SpeakerAgent
	default:
		c.log.WithField("kind", ev.Kind).Warn("conversation: unknown event kind")
		return
	}

	id := c.SessionID()
	if id == "" || strings.TrimSpace(ev.Content) == "" {
		return
	}
	c.record(ctx, id, speaker, ev.Content)
}

func (c *Conversation) record(ctx context.Context, sessionID, speaker, content string) {
	if err := c.recorder.Record(ctx, sessionID, speaker, content); err != nil {
		c.log.WithFields(logrus.Fields{
			"session_id":   sessionID,
			"speaker_type": speaker,
		}).WithError(err).Warn("conversation: transcript entry not scheduled")
	}
}

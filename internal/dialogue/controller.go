// Package dialogue owns a chat session and runs its turns one at a time.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edibez/cryptochat/internal/compose"
	"github.com/edibez/cryptochat/internal/query"
	"github.com/edibez/cryptochat/pkg/types"
)

var (
	ErrEmptyInput = errors.New("empty input")
	ErrBusy       = errors.New("a turn is already in progress")
	ErrClosed     = errors.New("session closed")
)

// Outcomes stored with each turn
const (
	OutcomeDone     = "done"
	OutcomeFailed   = "failed"
	OutcomePanicked = "panicked"
)

const recordTimeout = 5 * time.Second

// Handler answers one message
type Handler interface {
	Handle(ctx context.Context, text string) query.Result
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, text string) query.Result

func (f HandlerFunc) Handle(ctx context.Context, text string) query.Result { return f(ctx, text) }

// Recorder keeps usage statistics
type Recorder interface {
	RecordTurn(ctx context.Context, t types.TurnRecord) error
}

// Option configures a Controller
type Option func(*Controller)

// WithRecorder stores a summary of every turn in r
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithSessionID overrides the generated session id
func WithSessionID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// Controller is one chat session. At most one turn runs at a time; a message
// sent meanwhile is rejected with ErrBusy, not queued.
type Controller struct {
	id       string
	handler  Handler
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	messages []types.Message
	busy     bool
	closed   bool

	pending sync.WaitGroup
}

// NewController starts a session greeted with the welcome message
func NewController(handler Handler, opts ...Option) *Controller {
	c := &Controller{
		id:      uuid.NewString(),
		handler: handler,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.messages = []types.Message{{
		Role:      types.RoleAssistant,
		Text:      compose.Welcome().String(),
		Timestamp: c.now(),
	}}
	return c
}

// ID returns the session id
func (c *Controller) ID() string { return c.id }

// QuickPrompts returns the suggested first questions
func (c *Controller) QuickPrompts() []string {
	return append([]string(nil), compose.QuickPrompts...)
}

// Submit runs one turn and returns the reply as Markup-Lite. The turn runs to
// completion even if ctx is cancelled; a reply for a session closed meanwhile
// is dropped and ErrClosed returned.
func (c *Controller) Submit(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return "", ErrClosed
	case c.busy:
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.busy = true
	c.messages = append(c.messages, types.Message{Role: types.RoleUser, Text: text, Timestamp: c.now()})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	start := c.now()
	res, outcome := c.run(context.WithoutCancel(ctx), text)
	reply := res.Document.String()

	c.record(types.TurnRecord{
		SessionID: c.id,
		Intent:    res.Intent,
		Outcome:   outcome,
		Duration:  c.now().Sub(start),
		At:        start,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("reply dropped for closed session", "session", c.id)
		return "", ErrClosed
	}
	c.messages = append(c.messages, types.Message{Role: types.RoleAssistant, Text: reply, Timestamp: c.now()})
	return reply, nil
}

func (c *Controller) run(ctx context.Context, text string) (res query.Result, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("turn panicked", "session", c.id, "panic", r)
			res = query.Result{
				Intent:   types.IntentUnknown,
				Document: compose.Apology(false),
				Err:      fmt.Errorf("turn panicked: %v", r),
			}
			outcome = OutcomePanicked
		}
	}()

	res = c.handler.Handle(ctx, text)
	if res.Err != nil {
		c.logger.Warn("turn failed", "session", c.id, "intent", res.Intent, "error", res.Err)
		return res, OutcomeFailed
	}
	return res, OutcomeDone
}

func (c *Controller) record(t types.TurnRecord) {
	if c.recorder == nil {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := c.recorder.RecordTurn(ctx, t); err != nil {
			c.logger.Warn("failed to record turn", "session", c.id, "error", err)
		}
	}()
}

// Messages returns a copy of the session log
func (c *Controller) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.messages...)
}

// Busy reports whether a turn is in flight
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Close discards the session. A turn still running finishes but its reply is
// dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.messages = nil
	c.mu.Unlock()
}

// Wait blocks until pending turn records are written
func (c *Controller) Wait() {
	c.pending.Wait()
}

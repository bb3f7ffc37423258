// Package session implements the conversation controller: it owns at most one
// active analysis session, runs the initial analysis and follow-up protocol
// against the gateway, and drops results that were superseded while in flight.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/gateway"
	"github.com/hpungsan/morsel/internal/interpret"
	"github.com/hpungsan/morsel/internal/prompt"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateAnalyzing   State = "analyzing"
	StateReady       State = "ready"
	StateFollowingUp State = "following_up"
)

// Gateway sends a message list and returns the raw content of the reply.
type Gateway interface {
	Send(ctx context.Context, messages []prompt.Message, shape gateway.Shape) (string, error)
}

// Recorder persists a snapshot after a successful analysis or follow-up.
// Failures are logged and never fail the call that produced the snapshot.
type Recorder interface {
	Record(ctx context.Context, snap *analysis.Snapshot) error
}

// StartInput is the input to a new analysis.
type StartInput struct {
	Ingredients string
	ProductName *string
	Profile     *analysis.Profile
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRecorder sets the recorder notified after successful calls.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.rec = r }
}

// WithClock sets the time source for session and turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator sets the session ID generator. The default issues random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// Controller is safe for concurrent use. The mutex guards bookkeeping only and
// is never held across a gateway call; every call captures the epoch it was
// issued under and discards its result if the epoch has moved on.
type Controller struct {
	gw    Gateway
	log   *zap.Logger
	rec   Recorder
	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	state   State
	epoch   uint64
	session *analysis.Session
}

// New creates an idle controller.
func New(gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		gw:    gw,
		log:   zap.NewNop(),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("session")
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the active session, if any.
func (c *Controller) Snapshot() (*analysis.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, false
	}
	return c.session.Snapshot(), true
}

// StartAnalysis discards any current session and runs a new initial analysis.
// On success the controller holds a fresh session with an empty transcript.
// If another StartAnalysis or Reset happens before the gateway answers, the
// answer is dropped and SUPERSEDED is returned.
func (c *Controller) StartAnalysis(ctx context.Context, in StartInput) (*analysis.Result, error) {
	if strings.TrimSpace(in.Ingredients) == "" {
		return nil, errors.NewInvalidInput("ingredients text is required")
	}
	msgs := prompt.BuildInitial(in.Ingredients, in.ProductName, in.Profile)

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.session = nil
	c.state = StateAnalyzing
	c.mu.Unlock()

	c.log.Debug("analysis started", zap.Uint64("epoch", epoch), zap.Bool("profile", in.Profile != nil))

	raw, err := c.gw.Send(ctx, msgs, gateway.ShapeJSON)
	var result *analysis.Result
	if err == nil {
		result, err = interpret.Verdict(raw)
		if err != nil {
			c.log.Warn("unparseable analysis", zap.Error(errors.As(err).Cause), zap.String("raw", raw))
		}
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("analysis superseded", zap.Uint64("epoch", epoch))
		return nil, errors.NewSuperseded()
	}
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		return nil, err
	}
	sess := analysis.NewSession(c.newID(), in.Ingredients, in.ProductName, *result, c.now())
	c.session = sess
	c.state = StateReady
	snap := sess.Snapshot()
	c.mu.Unlock()

	c.log.Info("analysis ready", zap.String("session", snap.ID), zap.String("verdict", string(result.Verdict)))
	c.record(ctx, snap)
	return result, nil
}

// AskFollowUp asks a question about the active session's product. The user
// turn is appended before the gateway is called and stays in the transcript
// even if the call fails; the assistant turn is appended only on success.
func (c *Controller) AskFollowUp(ctx context.Context, message string, profile *analysis.Profile) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.NewInvalidInput("message is required")
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return "", errors.NewNoActiveSession()
	}
	if c.state == StateFollowingUp {
		c.mu.Unlock()
		return "", errors.NewFollowUpInProgress()
	}
	sess := c.session
	epoch := c.epoch
	// Messages are built from the transcript as it stood before this question.
	msgs := prompt.BuildFollowUp(sess, message, profile)
	sess.Append(analysis.RoleUser, message, c.now())
	c.state = StateFollowingUp
	c.mu.Unlock()

	raw, err := c.gw.Send(ctx, msgs, gateway.ShapeText)
	var reply string
	if err == nil {
		reply, err = interpret.Reply(raw)
	}

	c.mu.Lock()
	if c.epoch != epoch || c.session != sess {
		c.mu.Unlock()
		c.log.Debug("follow-up superseded", zap.String("session", sess.ID()))
		return "", errors.NewSuperseded()
	}
	c.state = StateReady
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	sess.Append(analysis.RoleAssistant, reply, c.now())
	snap := sess.Snapshot()
	c.mu.Unlock()

	c.record(ctx, snap)
	return reply, nil
}

// Reset discards the active session and makes any in-flight result stale.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.session = nil
	c.state = StateIdle
}

func (c *Controller) record(ctx context.Context, snap *analysis.Snapshot) {
	if c.rec == nil {
		return
	}
	if err := c.rec.Record(ctx, snap); err != nil {
		c.log.Warn("failed to record analysis", zap.String("session", snap.ID), zap.Error(err))
	}
}

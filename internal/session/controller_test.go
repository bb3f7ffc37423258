package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/gateway"
	"github.com/hpungsan/morsel/internal/prompt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const cautionJSON = `{"verdict":"caution","whatStoodOut":"Palm oil, added sugar","whyMatters":"Saturated fat and sugar.","whatsUncertain":"Palm oil sourcing.","bottomLine":"Occasional treat."}`

func verdictJSON(v analysis.Verdict) string {
	return fmt.Sprintf(`{"verdict":%q,"whatStoodOut":"a","whyMatters":"b","whatsUncertain":"c","bottomLine":"d"}`, v)
}

type gatewayFunc func(ctx context.Context, msgs []prompt.Message, shape gateway.Shape) (string, error)

func (f gatewayFunc) Send(ctx context.Context, msgs []prompt.Message, shape gateway.Shape) (string, error) {
	return f(ctx, msgs, shape)
}

// pendingCall is a gateway request held until the test answers it.
type pendingCall struct {
	msgs  []prompt.Message
	shape gateway.Shape
	done  chan reply
}

type reply struct {
	content string
	err     error
}

func (p *pendingCall) respond(content string, err error) {
	p.done <- reply{content, err}
}

// blockingGateway publishes every call on calls and blocks until it is answered.
type blockingGateway struct {
	calls chan *pendingCall
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{calls: make(chan *pendingCall)}
}

func (g *blockingGateway) Send(ctx context.Context, msgs []prompt.Message, shape gateway.Shape) (string, error) {
	p := &pendingCall{msgs: msgs, shape: shape, done: make(chan reply, 1)}
	g.calls <- p
	r := <-p.done
	return r.content, r.err
}

func (g *blockingGateway) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case p := <-g.calls:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gateway call")
		return nil
	}
}

type startOutcome struct {
	result *analysis.Result
	err    error
}

func startAsync(c *Controller, in StartInput) <-chan startOutcome {
	ch := make(chan startOutcome, 1)
	go func() {
		r, err := c.StartAnalysis(context.Background(), in)
		ch <- startOutcome{r, err}
	}()
	return ch
}

type askOutcome struct {
	reply string
	err   error
}

func askAsync(c *Controller, msg string) <-chan askOutcome {
	ch := make(chan askOutcome, 1)
	go func() {
		r, err := c.AskFollowUp(context.Background(), msg, nil)
		ch <- askOutcome{r, err}
	}()
	return ch
}

type memRecorder struct {
	mu    sync.Mutex
	snaps []*analysis.Snapshot
	err   error
}

func (r *memRecorder) Record(_ context.Context, snap *analysis.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func strPtr(s string) *string { return &s }

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

// readyController returns a controller holding a session for the "Snack Bar" scenario.
func readyController(t *testing.T, followUp gatewayFunc, opts ...Option) *Controller {
	t.Helper()
	gw := gatewayFunc(func(ctx context.Context, msgs []prompt.Message, shape gateway.Shape) (string, error) {
		if shape == gateway.ShapeJSON {
			return cautionJSON, nil
		}
		return followUp(ctx, msgs, shape)
	})
	c := New(gw, append([]Option{WithClock(fixedClock())}, opts...)...)
	_, err := c.StartAnalysis(context.Background(), StartInput{
		Ingredients: "Water, Sugar, Palm Oil",
		ProductName: strPtr("Snack Bar"),
	})
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())
	return c
}

func TestStartAnalysis_Ready(t *testing.T) {
	var gotShape gateway.Shape
	var gotMsgs []prompt.Message
	gw := gatewayFunc(func(_ context.Context, msgs []prompt.Message, shape gateway.Shape) (string, error) {
		gotShape, gotMsgs = shape, msgs
		return cautionJSON, nil
	})
	rec := &memRecorder{}
	c := New(gw, WithRecorder(rec), WithIDGenerator(func() string { return "sess-1" }))

	result, err := c.StartAnalysis(context.Background(), StartInput{
		Ingredients: "Water, Sugar, Palm Oil",
		ProductName: strPtr("Snack Bar"),
	})
	require.NoError(t, err)

	want := analysis.Result{
		Verdict:        analysis.VerdictCaution,
		WhatStoodOut:   "Palm oil, added sugar",
		WhyMatters:     "Saturated fat and sugar.",
		WhatsUncertain: "Palm oil sourcing.",
		BottomLine:     "Occasional treat.",
	}
	require.Equal(t, want, *result)
	require.Equal(t, StateReady, c.State())
	require.Equal(t, gateway.ShapeJSON, gotShape)
	require.Len(t, gotMsgs, 2)

	snap, ok := c.Snapshot()
	require.True(t, ok)
	require.Equal(t, "sess-1", snap.ID)
	require.Equal(t, want, snap.Result)
	require.Empty(t, snap.Transcript)
	require.Equal(t, "Snack Bar", *snap.ProductName)
	require.Equal(t, 1, rec.count())
}

func TestStartAnalysis_BlankIngredients(t *testing.T) {
	c := readyController(t, nil)
	before, _ := c.Snapshot()

	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := c.StartAnalysis(context.Background(), StartInput{Ingredients: in})
		require.True(t, errors.Is(err, errors.ErrInvalidInput))
	}

	require.Equal(t, StateReady, c.State())
	after, _ := c.Snapshot()
	require.Equal(t, before.ID, after.ID)
}

func TestStartAnalysis_RateLimitedReturnsToIdle(t *testing.T) {
	gw := gatewayFunc(func(context.Context, []prompt.Message, gateway.Shape) (string, error) {
		return "", errors.NewRateLimited()
	})
	rec := &memRecorder{}
	c := New(gw, WithRecorder(rec))

	_, err := c.StartAnalysis(context.Background(), StartInput{Ingredients: "Water"})
	require.True(t, errors.Is(err, errors.ErrRateLimited))
	require.Equal(t, StateIdle, c.State())
	_, ok := c.Snapshot()
	require.False(t, ok)
	require.Equal(t, 0, rec.count())
}

func TestStartAnalysis_MalformedReturnsToIdle(t *testing.T) {
	gw := gatewayFunc(func(context.Context, []prompt.Message, gateway.Shape) (string, error) {
		return `{"verdict":"great"}`, nil
	})
	c := New(gw)

	_, err := c.StartAnalysis(context.Background(), StartInput{Ingredients: "Water"})
	require.True(t, errors.Is(err, errors.ErrMalformedAnalysis))
	require.Equal(t, StateIdle, c.State())
}

func TestStartAnalysis_FailureDiscardsPriorSession(t *testing.T) {
	fail := false
	gw := gatewayFunc(func(context.Context, []prompt.Message, gateway.Shape) (string, error) {
		if fail {
			return "", errors.NewServiceUnavailable("", nil)
		}
		return cautionJSON, nil
	})
	c := New(gw)
	_, err := c.StartAnalysis(context.Background(), StartInput{Ingredients: "Water"})
	require.NoError(t, err)

	fail = true
	_, err = c.StartAnalysis(context.Background(), StartInput{Ingredients: "Oats"})
	require.True(t, errors.Is(err, errors.ErrServiceUnavailable))
	require.Equal(t, StateIdle, c.State())
	_, ok := c.Snapshot()
	require.False(t, ok)
}

func TestStartAnalysis_LaterCallWins(t *testing.T) {
	gw := newBlockingGateway()
	c := New(gw)

	first := startAsync(c, StartInput{Ingredients: "A ingredients"})
	callA := gw.next(t)
	second := startAsync(c, StartInput{Ingredients: "B ingredients"})
	callB := gw.next(t)

	// B resolves first, then A.
	callB.respond(verdictJSON(analysis.VerdictPass), nil)
	outB := <-second
	require.NoError(t, outB.err)

	callA.respond(verdictJSON(analysis.VerdictAvoid), nil)
	outA := <-first
	require.True(t, errors.Is(outA.err, errors.ErrSuperseded), "got %v", outA.err)

	snap, ok := c.Snapshot()
	require.True(t, ok)
	require.Equal(t, "B ingredients", snap.IngredientsText)
	require.Equal(t, analysis.VerdictPass, snap.Result.Verdict)
	require.Equal(t, StateReady, c.State())
}

func TestStartAnalysis_EarlierResultDroppedEvenIfFirst(t *testing.T) {
	gw := newBlockingGateway()
	c := New(gw)

	first := startAsync(c, StartInput{Ingredients: "A ingredients"})
	callA := gw.next(t)
	second := startAsync(c, StartInput{Ingredients: "B ingredients"})
	callB := gw.next(t)

	callA.respond(verdictJSON(analysis.VerdictAvoid), nil)
	outA := <-first
	require.True(t, errors.Is(outA.err, errors.ErrSuperseded))
	require.Equal(t, StateAnalyzing, c.State())
	_, ok := c.Snapshot()
	require.False(t, ok)

	callB.respond(verdictJSON(analysis.VerdictPass), nil)
	require.NoError(t, (<-second).err)

	snap, _ := c.Snapshot()
	require.Equal(t, "B ingredients", snap.IngredientsText)
}

func TestStartAnalysis_StaleFailureDoesNotTouchState(t *testing.T) {
	gw := newBlockingGateway()
	c := New(gw)

	first := startAsync(c, StartInput{Ingredients: "A"})
	callA := gw.next(t)
	second := startAsync(c, StartInput{Ingredients: "B"})
	callB := gw.next(t)

	callB.respond(cautionJSON, nil)
	require.NoError(t, (<-second).err)

	callA.respond("", errors.NewRateLimited())
	require.True(t, errors.Is((<-first).err, errors.ErrSuperseded))
	require.Equal(t, StateReady, c.State())
}

func TestReset_DuringAnalysis(t *testing.T) {
	gw := newBlockingGateway()
	rec := &memRecorder{}
	c := New(gw, WithRecorder(rec))

	out := startAsync(c, StartInput{Ingredients: "Water"})
	call := gw.next(t)
	require.Equal(t, StateAnalyzing, c.State())

	c.Reset()
	require.Equal(t, StateIdle, c.State())

	call.respond(cautionJSON, nil)
	require.True(t, errors.Is((<-out).err, errors.ErrSuperseded))
	require.Equal(t, StateIdle, c.State())
	_, ok := c.Snapshot()
	require.False(t, ok)
	require.Equal(t, 0, rec.count())
}

func TestReset_FromReady(t *testing.T) {
	c := readyController(t, nil)
	c.Reset()
	require.Equal(t, StateIdle, c.State())
	_, ok := c.Snapshot()
	require.False(t, ok)
}

func TestAskFollowUp_NoActiveSession(t *testing.T) {
	called := false
	c := New(gatewayFunc(func(context.Context, []prompt.Message, gateway.Shape) (string, error) {
		called = true
		return "x", nil
	}))

	_, err := c.AskFollowUp(context.Background(), "Is palm oil vegan?", nil)
	require.True(t, errors.Is(err, errors.ErrNoActiveSession))
	require.Equal(t, StateIdle, c.State())
	require.False(t, called)
}

func TestAskFollowUp_DuringAnalysis(t *testing.T) {
	gw := newBlockingGateway()
	c := New(gw)

	out := startAsync(c, StartInput{Ingredients: "Water"})
	call := gw.next(t)

	_, err := c.AskFollowUp(context.Background(), "Is it vegan?", nil)
	require.True(t, errors.Is(err, errors.ErrNoActiveSession))
	require.Equal(t, StateAnalyzing, c.State())

	call.respond(cautionJSON, nil)
	require.NoError(t, (<-out).err)
}

func TestAskFollowUp_BlankMessage(t *testing.T) {
	c := readyController(t, nil)
	_, err := c.AskFollowUp(context.Background(), "  ", nil)
	require.True(t, errors.Is(err, errors.ErrInvalidInput))

	snap, _ := c.Snapshot()
	require.Empty(t, snap.Transcript)
	require.Equal(t, StateReady, c.State())
}

func TestAskFollowUp_SuccessAppendsTwoTurns(t *testing.T) {
	var gotMsgs []prompt.Message
	var gotShape gateway.Shape
	rec := &memRecorder{}
	c := readyController(t, func(_ context.Context, msgs []prompt.Message, shape gateway.Shape) (string, error) {
		gotMsgs, gotShape = msgs, shape
		return "  Yes, palm oil is plant-derived.\n", nil
	}, WithRecorder(rec))

	reply, err := c.AskFollowUp(context.Background(), "Is palm oil vegan?", nil)
	require.NoError(t, err)
	require.Equal(t, "Yes, palm oil is plant-derived.", reply)
	require.Equal(t, StateReady, c.State())
	require.Equal(t, gateway.ShapeText, gotShape)

	first := gotMsgs[0]
	require.Equal(t, prompt.RoleSystem, first.Role)
	require.Contains(t, first.Content, "Water, Sugar, Palm Oil")
	require.Contains(t, first.Content, "caution")
	require.Equal(t, prompt.Message{Role: prompt.RoleUser, Content: "Is palm oil vegan?"}, gotMsgs[len(gotMsgs)-1])
	require.Len(t, gotMsgs, 2, "the pending question must not be replayed from the transcript")

	snap, _ := c.Snapshot()
	require.Len(t, snap.Transcript, 2)
	require.Equal(t, analysis.RoleUser, snap.Transcript[0].Role)
	require.Equal(t, "Is palm oil vegan?", snap.Transcript[0].Content)
	require.Equal(t, analysis.RoleAssistant, snap.Transcript[1].Role)
	require.Equal(t, "Yes, palm oil is plant-derived.", snap.Transcript[1].Content)
	require.True(t, snap.Transcript[0].Timestamp.Before(snap.Transcript[1].Timestamp))

	// Initial analysis plus the follow-up.
	require.Equal(t, 2, rec.count())
}

func TestAskFollowUp_ReplaysTranscript(t *testing.T) {
	var gotMsgs []prompt.Message
	n := 0
	c := readyController(t, func(_ context.Context, msgs []prompt.Message, _ gateway.Shape) (string, error) {
		gotMsgs = msgs
		n++
		return fmt.Sprintf("answer %d", n), nil
	})

	_, err := c.AskFollowUp(context.Background(), "q1", nil)
	require.NoError(t, err)
	_, err = c.AskFollowUp(context.Background(), "q2", nil)
	require.NoError(t, err)

	require.Len(t, gotMsgs, 4)
	require.Equal(t, prompt.Message{Role: prompt.RoleUser, Content: "q1"}, gotMsgs[1])
	require.Equal(t, prompt.Message{Role: prompt.RoleAssistant, Content: "answer 1"}, gotMsgs[2])
	require.Equal(t, prompt.Message{Role: prompt.RoleUser, Content: "q2"}, gotMsgs[3])
}

func TestAskFollowUp_FailureKeepsUserTurn(t *testing.T) {
	tests := []struct {
		name string
		resp string
		err  error
		code errors.ErrorCode
	}{
		{"rate limited", "", errors.NewRateLimited(), errors.ErrRateLimited},
		{"quota", "", errors.NewQuotaExhausted(), errors.ErrQuotaExhausted},
		{"unavailable", "", errors.NewServiceUnavailable("", nil), errors.ErrServiceUnavailable},
		{"empty reply", "   ", nil, errors.ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			c := readyController(t, func(context.Context, []prompt.Message, gateway.Shape) (string, error) {
				return tt.resp, tt.err
			}, WithRecorder(rec))

			_, err := c.AskFollowUp(context.Background(), "Is palm oil vegan?", nil)
			require.True(t, errors.Is(err, tt.code), "got %v", err)
			require.Equal(t, StateReady, c.State())

			snap, _ := c.Snapshot()
			require.Len(t, snap.Transcript, 1)
			require.Equal(t, analysis.RoleUser, snap.Transcript[0].Role)
			require.Equal(t, 1, rec.count(), "failed follow-ups are not recorded")
		})
	}
}

func TestAskFollowUp_OptimisticTurnAndInProgress(t *testing.T) {
	gw := newBlockingGateway()
	c := New(gw)

	out := startAsync(c, StartInput{Ingredients: "Water"})
	gw.next(t).respond(cautionJSON, nil)
	require.NoError(t, (<-out).err)

	ask := askAsync(c, "Is it vegan?")
	call := gw.next(t)
	require.Equal(t, gateway.ShapeText, call.shape)

	require.Equal(t, StateFollowingUp, c.State())
	snap, _ := c.Snapshot()
	require.Len(t, snap.Transcript, 1)
	require.Equal(t, "Is it vegan?", snap.Transcript[0].Content)

	_, err := c.AskFollowUp(context.Background(), "And gluten?", nil)
	require.True(t, errors.Is(err, errors.ErrFollowUpInProgress))
	snap, _ = c.Snapshot()
	require.Len(t, snap.Transcript, 1)

	call.respond("Yes.", nil)
	res := <-ask
	require.NoError(t, res.err)
	require.Equal(t, "Yes.", res.reply)
	require.Equal(t, StateReady, c.State())
}

func TestAskFollowUp_SupersededByNewAnalysis(t *testing.T) {
	gw := newBlockingGateway()
	c := New(gw)

	out := startAsync(c, StartInput{Ingredients: "Old product"})
	gw.next(t).respond(cautionJSON, nil)
	require.NoError(t, (<-out).err)

	ask := askAsync(c, "Is it vegan?")
	followCall := gw.next(t)

	restart := startAsync(c, StartInput{Ingredients: "New product"})
	startCall := gw.next(t)

	followCall.respond("Late answer.", nil)
	require.True(t, errors.Is((<-ask).err, errors.ErrSuperseded))
	require.Equal(t, StateAnalyzing, c.State())

	startCall.respond(verdictJSON(analysis.VerdictPass), nil)
	require.NoError(t, (<-restart).err)

	snap, _ := c.Snapshot()
	require.Equal(t, "New product", snap.IngredientsText)
	require.Empty(t, snap.Transcript)
}

func TestAskFollowUp_SupersededByReset(t *testing.T) {
	gw := newBlockingGateway()
	c := New(gw)

	out := startAsync(c, StartInput{Ingredients: "Water"})
	gw.next(t).respond(cautionJSON, nil)
	require.NoError(t, (<-out).err)

	ask := askAsync(c, "Is it vegan?")
	call := gw.next(t)
	c.Reset()
	call.respond("", errors.NewRateLimited())

	require.True(t, errors.Is((<-ask).err, errors.ErrSuperseded))
	require.Equal(t, StateIdle, c.State())
}

func TestRecorderFailureDoesNotFailAnalysis(t *testing.T) {
	rec := &memRecorder{err: fmt.Errorf("disk full")}
	c := New(gatewayFunc(func(context.Context, []prompt.Message, gateway.Shape) (string, error) {
		return cautionJSON, nil
	}), WithRecorder(rec))

	_, err := c.StartAnalysis(context.Background(), StartInput{Ingredients: "Water"})
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())
	require.Equal(t, 1, rec.count())
}

func TestStartAnalysis_ProfileReachesPrompt(t *testing.T) {
	var sys string
	c := New(gatewayFunc(func(_ context.Context, msgs []prompt.Message, _ gateway.Shape) (string, error) {
		sys = msgs[0].Content
		return cautionJSON, nil
	}))

	_, err := c.StartAnalysis(context.Background(), StartInput{
		Ingredients: "Milk, Peanuts",
		Profile:     &analysis.Profile{Allergies: []string{"peanuts"}},
	})
	require.NoError(t, err)
	require.True(t, strings.Contains(sys, "- Allergies: peanuts"))
}

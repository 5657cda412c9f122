package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/handler"
	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/dmorgan81/stabilitystudio/internal/metrics"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedGenerator blocks every call until release is closed.
type gatedGenerator struct {
	release  chan struct{}
	entered  chan struct{}
	payload  []byte
	err      error
	calls    atomic.Int32
	finished atomic.Int32
}

func newGatedGenerator(payload []byte, err error) *gatedGenerator {
	return &gatedGenerator{
		release: make(chan struct{}),
		entered: make(chan struct{}, 8),
		payload: payload,
		err:     err,
	}
}

func (g *gatedGenerator) Generate(ctx context.Context, _ image.Request) ([]byte, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.release
	defer g.finished.Add(1)
	return g.payload, ctx.Err()
}

type errGenerator struct{ err error }

func (g errGenerator) Generate(context.Context, image.Request) ([]byte, error) {
	return nil, g.err
}

func payload(n int) []byte {
	s := `{"artifacts":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"base64":%q}`, base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("img-%d", i))))
	}
	return []byte(s + `]}`)
}

type fixture struct {
	session *Session
	dir     string
	cancel  context.CancelFunc
	runErr  chan error
}

func start(t *testing.T, gen image.Generator) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "outputs")
	s := New(handler.New(gen, store.NewFileStore(dir), nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()
	require.Eventually(t, s.started.Load, 5*time.Second, time.Millisecond)
	t.Cleanup(cancel)
	return &fixture{session: s, dir: dir, cancel: cancel, runErr: runErr}
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func waitEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSession_Completes(t *testing.T) {
	gen := newGatedGenerator(payload(2), nil)
	f := start(t, gen)
	ctx := context.Background()

	id, err := f.session.Submit(ctx, handler.Input{Prompt: "a lantern", Samples: lo.ToPtr(2)})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	<-gen.entered
	state, err := f.session.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, InFlight, state)

	close(gen.release)
	ev := waitEvent(t, f.session)
	assert.Equal(t, id, ev.Task)
	assert.Equal(t, Completed, ev.Kind)
	require.Len(t, ev.Output.IDs, 2)
	assert.Len(t, f.files(t), 4)

	state, err = f.session.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, Idle, state)
}

func TestSession_RejectsSecondSubmission(t *testing.T) {
	gen := newGatedGenerator(payload(1), nil)
	f := start(t, gen)
	ctx := context.Background()

	first, err := f.session.Submit(ctx, handler.Input{Prompt: "first"})
	require.NoError(t, err)
	<-gen.entered

	_, err = f.session.Submit(ctx, handler.Input{Prompt: "second"})
	assert.ErrorIs(t, err, ErrInFlight)

	close(gen.release)
	ev := waitEvent(t, f.session)
	assert.Equal(t, first, ev.Task)
	assert.Equal(t, int32(1), gen.calls.Load())

	// trigger is available again once the first request resolved
	second, err := f.session.Submit(ctx, handler.Input{Prompt: "second"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, Completed, waitEvent(t, f.session).Kind)
}

func TestSession_EmptyPrompt(t *testing.T) {
	gen := newGatedGenerator(payload(1), nil)
	f := start(t, gen)
	ctx := context.Background()

	_, err := f.session.Submit(ctx, handler.Input{Prompt: ""})
	require.True(t, image.IsValidationError(err))
	assert.Equal(t, "Please enter a prompt", err.Error())
	assert.Zero(t, gen.calls.Load())

	state, err := f.session.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, Idle, state)
}

func TestSession_FailureEvent(t *testing.T) {
	f := start(t, errGenerator{err: &image.RemoteServiceError{StatusCode: 429, Body: "rate limited"}})

	_, err := f.session.Submit(context.Background(), handler.Input{Prompt: "a lantern"})
	require.NoError(t, err)

	ev := waitEvent(t, f.session)
	assert.Equal(t, Failed, ev.Kind)
	assert.Contains(t, ev.Message, "429")
	assert.Contains(t, ev.Message, "rate limited")
	assert.Empty(t, f.files(t))
}

func TestSession_LateResultDiscarded(t *testing.T) {
	gen := newGatedGenerator(payload(1), nil)
	f := start(t, gen)

	_, err := f.session.Submit(context.Background(), handler.Input{Prompt: "a lantern"})
	require.NoError(t, err)
	<-gen.entered

	before := testutil.ToFloat64(metrics.LateResults)
	f.cancel()
	assert.ErrorIs(t, <-f.runErr, context.Canceled)

	close(gen.release)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.LateResults) == before+1
	}, 5*time.Second, 10*time.Millisecond)

	// the worker was detached from cancellation and still ran to completion
	assert.Equal(t, int32(1), gen.finished.Load())
	assert.Empty(t, f.files(t))

	_, err = f.session.Submit(context.Background(), handler.Input{Prompt: "again"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.session.State(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_RunTwice(t *testing.T) {
	f := start(t, errGenerator{})
	_, err := f.session.State(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, f.session.Run(context.Background()), ErrRunning)
}

func TestSession_NotStarted(t *testing.T) {
	gen := newGatedGenerator(payload(1), nil)
	s := New(handler.New(gen, store.NewFileStore(filepath.Join(t.TempDir(), "outputs")), nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.Submit(ctx, handler.Input{Prompt: "a lantern"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.State(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, gen.calls.Load())

	// validation still comes first
	_, err = s.Submit(ctx, handler.Input{Prompt: ""})
	assert.True(t, image.IsValidationError(err))
}

func TestSession_Start(t *testing.T) {
	gen := newGatedGenerator(payload(1), nil)
	s := New(handler.New(gen, store.NewFileStore(filepath.Join(t.TempDir(), "outputs")), nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrRunning)

	_, err := s.Submit(ctx, handler.Input{Prompt: "a lantern"})
	require.NoError(t, err)
	<-gen.entered
	close(gen.release)
	assert.Equal(t, Completed, waitEvent(t, s).Kind)
}

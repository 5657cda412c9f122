// Package session coordinates generation requests for an interactive front end.
//
// A Session owns all of its state inside Run, which plays the part of the
// primary execution context: it accepts submissions, spawns one worker per
// accepted request for the blocking network call, and is the only place
// results get persisted and reported. At most one request is in flight; a
// second submission is rejected rather than queued.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/handler"
	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/metrics"
	"github.com/dmorgan81/stabilitystudio/internal/prompt"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/lo"
)

var (
	ErrInFlight = errors.New("a generation request is already in flight")
	ErrClosed   = errors.New("session is not running")
	ErrRunning  = errors.New("session is already running")
)

type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	return lo.Ternary(s == InFlight, "in_flight", "idle")
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type TaskID string

type EventKind string

const (
	Completed EventKind = "completed"
	Failed    EventKind = "failed"
)

// Event reports how a submitted task ended.
type Event struct {
	Task    TaskID         `json:"task"`
	Kind    EventKind      `json:"kind"`
	Output  handler.Output `json:"output"`
	Message string         `json:"message,omitempty"`
	Err     error          `json:"-"`
}

type task struct {
	id      TaskID
	req     image.Request
	started time.Time
}

type submission struct {
	req   image.Request
	reply chan submitReply
}

type submitReply struct {
	id  TaskID
	err error
}

type result struct {
	task    task
	payload []byte
	err     error
}

type Session struct {
	handler *handler.Handler

	submits chan submission
	results chan result
	states  chan chan State
	events  chan Event
	done    chan struct{}
	started atomic.Bool
}

func New(h *handler.Handler) *Session {
	return &Session{
		handler: h,
		submits: make(chan submission),
		results: make(chan result),
		states:  make(chan chan State),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
}

func NewSession(i *do.Injector) (*Session, error) {
	return New(do.MustInvoke[*handler.Handler](i)), nil
}

// Events delivers one Event per accepted task. It must be drained while Run is active.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session until ctx is cancelled. A worker still in flight at
// that point is left to finish on its own and its result is discarded.
// Submit and State return ErrClosed until Run (or Start) has been called.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	return s.run(ctx)
}

// Start is Run on its own goroutine. The session counts as started once Start
// returns, so a Submit that follows it never sees ErrClosed.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	go func() { _ = s.run(ctx) }()
	return nil
}

func (s *Session) run(ctx context.Context) error {
	defer close(s.done)

	log := log.FromContextOrDiscard(ctx).WithGroup("session")
	log.Info("session started")

	var current *task
	for {
		select {
		case <-ctx.Done():
			if current != nil {
				log.Warn("stopping with request in flight", "task", current.id)
			}
			log.Info("session stopped")
			return ctx.Err()

		case sub := <-s.submits:
			if current != nil {
				log.Info("rejecting submission", "in_flight", current.id)
				sub.reply <- submitReply{err: ErrInFlight}
				continue
			}
			current = &task{id: TaskID(uuid.NewString()), req: sub.req, started: time.Now()}
			metrics.SetInFlight(true)
			log.Info("request submitted", "task", current.id)
			go s.work(ctx, *current)
			sub.reply <- submitReply{id: current.id}

		case res := <-s.results:
			current = nil
			metrics.SetInFlight(false)
			s.emit(ctx, s.complete(ctx, res))

		case reply := <-s.states:
			reply <- lo.Ternary(current != nil, InFlight, Idle)
		}
	}
}

func (s *Session) work(ctx context.Context, t task) {
	log := log.FromContextOrDiscard(ctx).WithGroup("session").With("task", t.id)

	// the call is not abortable once started
	payload, err := s.handler.Generator().Generate(context.WithoutCancel(ctx), t.req)
	metrics.ObserveGeneration(time.Since(t.started))

	select {
	case s.results <- result{task: t, payload: payload, err: err}:
	case <-s.done:
		metrics.IncLateResult()
		log.Warn("discarding result of stopped session", "error", err)
	}
}

func (s *Session) complete(ctx context.Context, res result) Event {
	log := log.FromContextOrDiscard(ctx).WithGroup("session").With("task", res.task.id)

	if res.err != nil {
		metrics.IncGeneration(metrics.ResultFor(res.err))
		log.Error("generation failed", "error", res.err)
		return failed(res.task, handler.Output{Request: res.task.req}, res.err)
	}

	out, err := s.handler.Complete(ctx, res.task.req, res.payload)
	if err != nil {
		return failed(res.task, out, err)
	}
	return Event{Task: res.task.id, Kind: Completed, Output: out}
}

func failed(t task, out handler.Output, err error) Event {
	return Event{Task: t.id, Kind: Failed, Output: out, Message: err.Error(), Err: err}
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Submit validates the input and, if nothing is in flight, starts a worker for it.
// Invalid input is rejected before any network traffic.
func (s *Session) Submit(ctx context.Context, input handler.Input) (TaskID, error) {
	req, err := prompt.Build(input.Fields())
	if err != nil {
		metrics.IncGeneration(metrics.ResultRejected)
		return "", err
	}
	if !s.started.Load() {
		return "", ErrClosed
	}

	reply := make(chan submitReply, 1)
	select {
	case s.submits <- submission{req: req, reply: reply}:
	case <-s.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
	r := <-reply
	return r.id, r.err
}

func (s *Session) State(ctx context.Context) (State, error) {
	if !s.started.Load() {
		return Idle, ErrClosed
	}
	reply := make(chan State, 1)
	select {
	case s.states <- reply:
	case <-s.done:
		return Idle, ErrClosed
	case <-ctx.Done():
		return Idle, ctx.Err()
	}
	return <-reply, nil
}

// Package queue is the bridge's request scheduler: submissions land in
// per-kind lanes, and a single drain loop dispatches them in fair batches
// so that host mutation stays serialized while reads keep flowing.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/observability"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/tracing"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/session"
)

// Kind classifies a request by its effect on the host.
type Kind string

const (
	KindRead    Kind = "read"
	KindWrite   Kind = "write"
	KindExecute Kind = "execute"
)

// Lane names. Execute requests share the write lane: both mutate the host,
// so both are limited to one dispatch per tick.
const (
	LaneRead  = "read"
	LaneWrite = "write"
)

// Status is a request's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

const DefaultReadBatch = 5

var (
	// ErrQueueFull is the backpressure signal: the submission is refused
	// and nothing is enqueued.
	ErrQueueFull = errors.New("queue is at capacity")

	// ErrNotFound means the request id is unknown, already retrieved, or
	// swept.
	ErrNotFound = errors.New("request not found")

	// ErrNotCancellable means the request was already picked up; the
	// cancellation is ignored.
	ErrNotCancellable = errors.New("request already dispatched")
)

// Request is one queued unit of work.
type Request struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	Kind       Kind                   `json:"kind"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Status     Status                 `json:"status"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// Response is the terminal outcome of a request. Body is the transport
// envelope payload produced by the dispatcher.
type Response struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Kind        Kind                   `json:"kind"`
	Status      Status                 `json:"status"`
	Body        map[string]interface{} `json:"body"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Result is what a Dispatcher hands back for one dispatched request.
type Result struct {
	Status Status
	Body   map[string]interface{}
}

// Dispatcher executes a dispatched request. Implementations run on the
// drain goroutine and may therefore touch the host directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) Result
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, req *Request) Result

func (f DispatcherFunc) Dispatch(ctx context.Context, req *Request) Result {
	return f(ctx, req)
}

// StatusInfo is the poll view of a request.
type StatusInfo struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	Response *Response `json:"response,omitempty"`
}

// Snapshot is the introspection view of the queue.
type Snapshot struct {
	Capacity int                       `json:"capacity"`
	Pending  int                       `json:"pending"`
	Lanes    map[string]map[string]int `json:"lanes"`
}

// responseSlot is a write-once cell: fill stores the response exactly once
// and closes done so awaiters wake.
type responseSlot struct {
	done chan struct{}
	resp *Response
}

func (s *responseSlot) fill(resp *Response) bool {
	if s.resp != nil {
		return false
	}
	s.resp = resp
	close(s.done)
	return true
}

// Scheduler owns the lanes, the request table and the response slots.
// Submit, Cancel and Poll are safe for concurrent use; DrainTick has a
// single caller, the daemon's event loop.
type Scheduler struct {
	mu sync.Mutex

	capacity  int
	readBatch int

	lanes    map[string]*lane
	requests map[string]*Request
	slots    map[string]*responseSlot

	tracker    *session.Tracker
	dispatcher Dispatcher

	// onRetrieved runs after a response leaves the table, outside the lock.
	onRetrieved func(req *Request, resp *Response)

	logger   zerolog.Logger
	now      func() time.Time
	draining bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCapacity bounds the total number of pending requests.
func WithCapacity(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithReadBatch sets how many read requests one tick may dispatch.
func WithReadBatch(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.readBatch = n
		}
	}
}

// WithRetrievedHook installs a callback invoked after a response is
// retrieved or swept, used for archiving.
func WithRetrievedHook(fn func(req *Request, resp *Response)) SchedulerOption {
	return func(s *Scheduler) {
		s.onRetrieved = fn
	}
}

// WithSchedulerClock injects a clock, for tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler bound to a session tracker and a
// dispatcher.
func NewScheduler(tracker *session.Tracker, dispatcher Dispatcher, logger zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	observability.EnsureRegistered()

	s := &Scheduler{
		capacity:  256,
		readBatch: DefaultReadBatch,
		lanes: map[string]*lane{
			LaneRead:  newLane(LaneRead),
			LaneWrite: newLane(LaneWrite),
		},
		requests:   make(map[string]*Request),
		slots:      make(map[string]*responseSlot),
		tracker:    tracker,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "queue").Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReadBatch adjusts the per-tick read budget at runtime.
func (s *Scheduler) SetReadBatch(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.readBatch = n
	s.mu.Unlock()
}

func scheduleLane(kind Kind) string {
	if kind == KindRead {
		return LaneRead
	}
	return LaneWrite
}

// Submit enqueues a request and returns its id. It never blocks: when the
// queue is at capacity it refuses with ErrQueueFull and the caller retries
// later. An empty session id gets a generated one, readable from the
// returned request.
func (s *Scheduler) Submit(sessionID string, kind Kind, payload map[string]interface{}) (*Request, error) {
	switch kind {
	case KindRead, KindWrite, KindExecute:
	default:
		return nil, fmt.Errorf("invalid request kind %q", kind)
	}

	laneName := scheduleLane(kind)

	s.mu.Lock()

	totalPending := s.lanes[LaneRead].pendingTotal() + s.lanes[LaneWrite].pendingTotal()
	if totalPending >= s.capacity {
		lanePending := s.lanes[laneName].pendingTotal()
		s.mu.Unlock()
		observability.RecordSubmit(laneName, false, lanePending)
		// The session is not touched: a refused submission never created a
		// request, so nothing lands in the action log either.
		s.logger.Warn().
			Str("session_id", sessionID).
			Str("kind", string(kind)).
			Msg("Submission refused, queue at capacity")
		return nil, ErrQueueFull
	}

	id, err := gonanoid.New()
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("generating request id: %w", err)
	}

	sess := s.tracker.Touch(sessionID, "submit "+string(kind))

	req := &Request{
		ID:         id,
		SessionID:  sess.ID,
		Kind:       kind,
		Payload:    payload,
		Status:     StatusPending,
		EnqueuedAt: s.now(),
	}

	s.requests[id] = req
	s.slots[id] = &responseSlot{done: make(chan struct{})}

	ln := s.lanes[laneName]
	ln.enqueue(req)
	pending := ln.pendingTotal()

	s.mu.Unlock()

	observability.RecordSubmit(laneName, true, pending)
	s.logger.Debug().
		Str("request_id", id).
		Str("session_id", sess.ID).
		Str("kind", string(kind)).
		Int("lane_pending", pending).
		Msg("Request enqueued")

	return req, nil
}

// Cancel marks a pending request cancelled. A request that was already
// dispatched keeps running; the cancellation is refused.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()

	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if req.Status != StatusPending {
		s.mu.Unlock()
		return ErrNotCancellable
	}

	req.Status = StatusCancelled
	resp := &Response{
		ID:          req.ID,
		SessionID:   req.SessionID,
		Kind:        req.Kind,
		Status:      StatusCancelled,
		Body:        map[string]interface{}{"success": false, "error": "request cancelled"},
		CompletedAt: s.now(),
	}
	s.slots[id].fill(resp)

	laneName := scheduleLane(req.Kind)
	pending := s.lanes[laneName].pendingTotal()
	s.mu.Unlock()

	observability.SetLanePending(laneName, pending)
	s.logger.Debug().Str("request_id", id).Msg("Request cancelled")
	return nil
}

// DrainTick runs one scheduling round: at most one write-or-execute
// request plus up to the read batch of read requests, round-robin across
// sessions. Dispatch happens synchronously on the caller's goroutine, the
// bridge's only execution context. It must not be called concurrently.
func (s *Scheduler) DrainTick(ctx context.Context) []*Response {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.logger.Error().Msg("DrainTick re-entered, skipping round")
		return nil
	}
	s.draining = true
	readBatch := s.readBatch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	var responses []*Response

	if resp := s.dispatchOne(ctx, LaneWrite); resp != nil {
		responses = append(responses, resp)
	}
	for i := 0; i < readBatch; i++ {
		resp := s.dispatchOne(ctx, LaneRead)
		if resp == nil {
			break
		}
		responses = append(responses, resp)
	}

	return responses
}

// dispatchOne picks the next request of one lane and runs it to completion.
func (s *Scheduler) dispatchOne(ctx context.Context, laneName string) *Response {
	s.mu.Lock()
	ln := s.lanes[laneName]
	req := ln.pick()
	if req == nil {
		s.mu.Unlock()
		return nil
	}
	req.Status = StatusDispatched
	slot := s.slots[req.ID]
	s.mu.Unlock()

	ctx = tracing.WithRequestID(ctx, req.ID)
	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx = tracing.WithLane(ctx, laneName)
	ctx, span := tracing.StartSpan(
		ctx,
		"bridge.queue",
		"queue.dispatch",
		attribute.String("lane", laneName),
		attribute.String("kind", string(req.Kind)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)

	start := s.now()
	result := s.safeDispatch(ctx, req, logger)
	duration := s.now().Sub(start)

	if result.Status != StatusCompleted && result.Status != StatusFailed {
		result.Status = StatusFailed
	}

	resp := &Response{
		ID:          req.ID,
		SessionID:   req.SessionID,
		Kind:        req.Kind,
		Status:      result.Status,
		Body:        result.Body,
		CompletedAt: s.now(),
	}

	s.mu.Lock()
	req.Status = result.Status
	slot.fill(resp)
	pending := ln.pendingTotal()
	s.mu.Unlock()

	observability.RecordDispatch(laneName, string(result.Status), duration, pending)
	logger.Debug().
		Str("status", string(result.Status)).
		Dur("duration", duration).
		Msg("Request dispatched")

	return resp
}

// safeDispatch guards the drain loop against a panicking handler: one bad
// request becomes a failed response, never a dead scheduler.
func (s *Scheduler) safeDispatch(ctx context.Context, req *Request, logger zerolog.Logger) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Dispatcher panicked")
			result = Result{
				Status: StatusFailed,
				Body: map[string]interface{}{
					"success": false,
					"error":   fmt.Sprintf("internal error: %v", r),
				},
			}
		}
	}()
	return s.dispatcher.Dispatch(ctx, req)
}

// Poll reports a request's state. Once the response is handed out the
// request leaves the table; a second poll for the same id is ErrNotFound
// and the caller falls back to the archive.
func (s *Scheduler) Poll(id string) (*StatusInfo, error) {
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	slot := s.slots[id]
	if slot.resp == nil {
		info := &StatusInfo{ID: id, Status: req.Status}
		s.mu.Unlock()
		return info, nil
	}

	resp := slot.resp
	delete(s.requests, id)
	delete(s.slots, id)
	s.mu.Unlock()

	if s.onRetrieved != nil {
		s.onRetrieved(req, resp)
	}

	return &StatusInfo{ID: id, Status: resp.Status, Response: resp}, nil
}

// Await blocks until the request resolves or ctx expires, then retrieves
// the response the same way Poll does.
func (s *Scheduler) Await(ctx context.Context, id string) (*Response, error) {
	s.mu.Lock()
	slot, ok := s.slots[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-slot.done:
	}

	info, err := s.Poll(id)
	if err != nil {
		return nil, err
	}
	return info.Response, nil
}

// AbandonSessions resolves the still-pending requests of pruned sessions
// to a timeout error, so a late poll gets a definite answer instead of
// hanging forever. Dispatched work is left to finish.
func (s *Scheduler) AbandonSessions(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	pruned := make(map[string]bool, len(ids))
	for _, id := range ids {
		pruned[id] = true
	}

	s.mu.Lock()
	now := s.now()
	abandoned := 0
	for id, req := range s.requests {
		if req.Status != StatusPending || !pruned[req.SessionID] {
			continue
		}
		req.Status = StatusCancelled
		s.slots[id].fill(&Response{
			ID:          req.ID,
			SessionID:   req.SessionID,
			Kind:        req.Kind,
			Status:      StatusCancelled,
			Body:        map[string]interface{}{"success": false, "error": "session timed out"},
			CompletedAt: now,
		})
		abandoned++
	}
	readPending := s.lanes[LaneRead].pendingTotal()
	writePending := s.lanes[LaneWrite].pendingTotal()
	s.mu.Unlock()

	if abandoned > 0 {
		observability.SetLanePending(LaneRead, readPending)
		observability.SetLanePending(LaneWrite, writePending)
		s.logger.Info().
			Int("count", abandoned).
			Msg("Abandoned pending requests of pruned sessions")
	}
	return abandoned
}

// SweepResponses drops resolved requests whose response sat unretrieved
// longer than ttl, handing each to the retrieved hook on the way out.
func (s *Scheduler) SweepResponses(now time.Time, ttl time.Duration) int {
	type expired struct {
		req  *Request
		resp *Response
	}

	s.mu.Lock()
	var out []expired
	for id, slot := range s.slots {
		if slot.resp == nil {
			continue
		}
		if now.Sub(slot.resp.CompletedAt) > ttl {
			out = append(out, expired{req: s.requests[id], resp: slot.resp})
			delete(s.requests, id)
			delete(s.slots, id)
		}
	}
	s.mu.Unlock()

	for _, e := range out {
		if s.onRetrieved != nil {
			s.onRetrieved(e.req, e.resp)
		}
	}

	if len(out) > 0 {
		s.logger.Debug().Int("count", len(out)).Msg("Swept expired responses")
	}
	return len(out)
}

// PendingCount returns the number of pending requests across all lanes.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ln := range s.lanes {
		total += ln.pendingTotal()
	}
	return total
}

// Snapshot returns the current queue shape for introspection endpoints.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Capacity: s.capacity,
		Lanes:    make(map[string]map[string]int, len(s.lanes)),
	}
	for name, ln := range s.lanes {
		per := ln.pendingBySession()
		snap.Lanes[name] = per
		for _, n := range per {
			snap.Pending += n
		}
	}
	return snap
}

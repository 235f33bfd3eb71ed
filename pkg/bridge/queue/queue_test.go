package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/session"
)

// recordingDispatcher tags each dispatch with its payload marker so tests
// can assert ordering.
type recordingDispatcher struct {
	mu     sync.Mutex
	order  []string
	panics map[string]bool
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{panics: make(map[string]bool)}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req *Request) Result {
	marker, _ := req.Payload["marker"].(string)

	d.mu.Lock()
	d.order = append(d.order, marker)
	shouldPanic := d.panics[marker]
	d.mu.Unlock()

	if shouldPanic {
		panic("handler exploded")
	}

	return Result{
		Status: StatusCompleted,
		Body:   map[string]interface{}{"success": true, "result": marker},
	}
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

func newTestScheduler(t *testing.T, opts ...SchedulerOption) (*Scheduler, *recordingDispatcher) {
	t.Helper()
	d := newRecordingDispatcher()
	s := NewScheduler(session.NewTracker(), d, zerolog.Nop(), opts...)
	return s, d
}

func submit(t *testing.T, s *Scheduler, sessionID string, kind Kind, marker string) *Request {
	t.Helper()
	req, err := s.Submit(sessionID, kind, map[string]interface{}{"marker": marker})
	require.NoError(t, err)
	return req
}

func TestDrainTick_WritesAlternateAcrossSessions(t *testing.T) {
	s, d := newTestScheduler(t)

	for i := 1; i <= 3; i++ {
		submit(t, s, "A", KindWrite, fmt.Sprintf("A%d", i))
		submit(t, s, "B", KindWrite, fmt.Sprintf("B%d", i))
	}

	for i := 0; i < 6; i++ {
		resps := s.DrainTick(context.Background())
		require.Len(t, resps, 1)
	}

	assert.Equal(t, []string{"A1", "B1", "A2", "B2", "A3", "B3"}, d.dispatched())
	assert.Empty(t, s.DrainTick(context.Background()))
}

func TestDrainTick_ReadBatchSplitsAcrossTicks(t *testing.T) {
	s, d := newTestScheduler(t)

	for i := 1; i <= 7; i++ {
		submit(t, s, "A", KindRead, fmt.Sprintf("R%d", i))
	}

	require.Len(t, s.DrainTick(context.Background()), 5)
	require.Len(t, s.DrainTick(context.Background()), 2)

	assert.Equal(t, []string{"R1", "R2", "R3", "R4", "R5", "R6", "R7"}, d.dispatched())
}

func TestDrainTick_ReadsInterleaveWithinTick(t *testing.T) {
	s, d := newTestScheduler(t)

	for i := 1; i <= 3; i++ {
		submit(t, s, "A", KindRead, fmt.Sprintf("A%d", i))
		submit(t, s, "B", KindRead, fmt.Sprintf("B%d", i))
	}

	require.Len(t, s.DrainTick(context.Background()), 5)

	// No session gets a second read before every session got its first.
	assert.Equal(t, []string{"A1", "B1", "A2", "B2", "A3"}, d.dispatched())
}

func TestDrainTick_OneMutationPerTick(t *testing.T) {
	s, d := newTestScheduler(t)

	submit(t, s, "A", KindWrite, "W1")
	submit(t, s, "A", KindExecute, "X1")
	submit(t, s, "A", KindRead, "R1")
	submit(t, s, "A", KindRead, "R2")

	resps := s.DrainTick(context.Background())
	require.Len(t, resps, 3)
	assert.Equal(t, []string{"W1", "R1", "R2"}, d.dispatched())

	resps = s.DrainTick(context.Background())
	require.Len(t, resps, 1)
	assert.Equal(t, "X1", d.dispatched()[3])
}

func TestSubmit_Backpressure(t *testing.T) {
	s, _ := newTestScheduler(t, WithCapacity(2))

	submit(t, s, "A", KindRead, "R1")
	submit(t, s, "A", KindRead, "R2")

	_, err := s.Submit("A", KindRead, nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	// Draining frees capacity.
	s.DrainTick(context.Background())
	_, err = s.Submit("A", KindRead, nil)
	assert.NoError(t, err)
}

func TestSubmit_RefusedLeavesSessionUntouched(t *testing.T) {
	tr := session.NewTracker()
	s := NewScheduler(tr, newRecordingDispatcher(), zerolog.Nop(), WithCapacity(1))

	submit(t, s, "A", KindRead, "R1")
	logged := len(tr.Get("A").ActionLog)

	_, err := s.Submit("B", KindRead, nil)
	require.ErrorIs(t, err, ErrQueueFull)

	// No request was created, so no session and no action log entry either.
	assert.Nil(t, tr.Get("B"))
	assert.Equal(t, 1, tr.Count())

	_, err = s.Submit("A", KindWrite, nil)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, tr.Get("A").ActionLog, logged)
}

func TestSubmit_InvalidKind(t *testing.T) {
	s, _ := newTestScheduler(t)

	_, err := s.Submit("A", Kind("delete"), nil)
	assert.Error(t, err)
}

func TestSubmit_GeneratesSessionID(t *testing.T) {
	s, _ := newTestScheduler(t)

	req := submit(t, s, "", KindRead, "R1")
	assert.NotEmpty(t, req.SessionID)
}

func TestCancel(t *testing.T) {
	s, d := newTestScheduler(t)

	req := submit(t, s, "A", KindWrite, "W1")

	require.NoError(t, s.Cancel(req.ID))
	assert.ErrorIs(t, s.Cancel("missing"), ErrNotFound)

	// Cancelled requests never reach the dispatcher.
	assert.Empty(t, s.DrainTick(context.Background()))
	assert.Empty(t, d.dispatched())

	info, err := s.Poll(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, info.Status)
	assert.Equal(t, false, info.Response.Body["success"])
}

func TestCancel_AfterDispatchIsRefused(t *testing.T) {
	s, _ := newTestScheduler(t)

	req := submit(t, s, "A", KindWrite, "W1")
	s.DrainTick(context.Background())

	assert.ErrorIs(t, s.Cancel(req.ID), ErrNotCancellable)
}

func TestPoll_Lifecycle(t *testing.T) {
	var hookMu sync.Mutex
	var archived []string
	s, _ := newTestScheduler(t, WithRetrievedHook(func(req *Request, resp *Response) {
		hookMu.Lock()
		archived = append(archived, req.ID)
		hookMu.Unlock()
	}))

	req := submit(t, s, "A", KindRead, "R1")

	info, err := s.Poll(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, info.Status)
	assert.Nil(t, info.Response)

	s.DrainTick(context.Background())

	info, err = s.Poll(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	require.NotNil(t, info.Response)
	assert.Equal(t, "R1", info.Response.Body["result"])

	// Retrieval is one-shot; afterwards the archive is the only copy.
	_, err = s.Poll(req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	hookMu.Lock()
	assert.Equal(t, []string{req.ID}, archived)
	hookMu.Unlock()
}

func TestAbandonSessions_ResolvesToTimeout(t *testing.T) {
	s, d := newTestScheduler(t)

	stale := submit(t, s, "stale", KindWrite, "S1")
	fresh := submit(t, s, "fresh", KindWrite, "F1")

	assert.Equal(t, 1, s.AbandonSessions([]string{"stale"}))

	info, err := s.Poll(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, info.Status)
	assert.Equal(t, "session timed out", info.Response.Body["error"])

	// The fresh session's request still dispatches.
	require.Len(t, s.DrainTick(context.Background()), 1)
	assert.Equal(t, []string{"F1"}, d.dispatched())
	_ = fresh
}

func TestDrainTick_PanicIsIsolated(t *testing.T) {
	s, d := newTestScheduler(t)
	d.panics["W1"] = true

	bad := submit(t, s, "A", KindWrite, "W1")
	good := submit(t, s, "A", KindWrite, "W2")

	resps := s.DrainTick(context.Background())
	require.Len(t, resps, 1)
	assert.Equal(t, StatusFailed, resps[0].Status)
	assert.Contains(t, resps[0].Body["error"], "internal error")

	resps = s.DrainTick(context.Background())
	require.Len(t, resps, 1)
	assert.Equal(t, StatusCompleted, resps[0].Status)

	info, err := s.Poll(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, info.Status)

	info, err = s.Poll(good.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
}

func TestAwait(t *testing.T) {
	s, _ := newTestScheduler(t)

	req := submit(t, s, "A", KindRead, "R1")

	done := make(chan *Response, 1)
	go func() {
		resp, err := s.Await(context.Background(), req.ID)
		if err == nil {
			done <- resp
		}
		close(done)
	}()

	// Give the awaiter time to block before draining.
	time.Sleep(10 * time.Millisecond)
	s.DrainTick(context.Background())

	select {
	case resp := <-done:
		require.NotNil(t, resp)
		assert.Equal(t, StatusCompleted, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not resolve")
	}
}

func TestAwait_ContextCancelled(t *testing.T) {
	s, _ := newTestScheduler(t)

	req := submit(t, s, "A", KindRead, "R1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Await(ctx, req.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepResponses(t *testing.T) {
	var hookMu sync.Mutex
	swept := 0
	s, _ := newTestScheduler(t, WithRetrievedHook(func(req *Request, resp *Response) {
		hookMu.Lock()
		swept++
		hookMu.Unlock()
	}))

	req := submit(t, s, "A", KindRead, "R1")
	s.DrainTick(context.Background())

	// Too young to sweep.
	assert.Equal(t, 0, s.SweepResponses(time.Now(), time.Hour))

	assert.Equal(t, 1, s.SweepResponses(time.Now().Add(2*time.Hour), time.Hour))
	_, err := s.Poll(req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	hookMu.Lock()
	assert.Equal(t, 1, swept)
	hookMu.Unlock()
}

func TestSetReadBatch(t *testing.T) {
	s, _ := newTestScheduler(t, WithReadBatch(2))

	for i := 1; i <= 5; i++ {
		submit(t, s, "A", KindRead, fmt.Sprintf("R%d", i))
	}

	require.Len(t, s.DrainTick(context.Background()), 2)

	s.SetReadBatch(3)
	require.Len(t, s.DrainTick(context.Background()), 3)
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestScheduler(t, WithCapacity(10))

	submit(t, s, "A", KindRead, "R1")
	submit(t, s, "A", KindRead, "R2")
	submit(t, s, "B", KindWrite, "W1")
	submit(t, s, "B", KindExecute, "X1")

	snap := s.Snapshot()
	assert.Equal(t, 10, snap.Capacity)
	assert.Equal(t, 4, snap.Pending)
	assert.Equal(t, map[string]int{"A": 2}, snap.Lanes[LaneRead])
	assert.Equal(t, map[string]int{"B": 2}, snap.Lanes[LaneWrite])
}

func TestLane_CursorSurvivesEmptiedSessions(t *testing.T) {
	l := newLane(LaneRead)

	reqs := map[string]*Request{}
	add := func(sid, id string) {
		r := &Request{ID: id, SessionID: sid, Status: StatusPending}
		reqs[id] = r
		l.enqueue(r)
	}

	add("A", "a1")
	add("B", "b1")
	add("B", "b2")
	add("C", "c1")

	var got []string
	for r := l.pick(); r != nil; r = l.pick() {
		got = append(got, r.ID)
	}

	assert.Equal(t, []string{"a1", "b1", "c1", "b2"}, got)
	assert.Empty(t, l.order)
}

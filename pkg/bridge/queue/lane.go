package queue

// lane holds the pending requests of one scheduling lane, partitioned by
// session for fairness bookkeeping. Within a session the slice is FIFO;
// across sessions selection is round-robin by a stable cyclic cursor, so no
// session can be perpetually first and none starves.
type lane struct {
	name     string
	sessions map[string][]*Request
	order    []string
	cursor   int
}

func newLane(name string) *lane {
	return &lane{
		name:     name,
		sessions: make(map[string][]*Request),
	}
}

// enqueue appends a request to its session's FIFO, registering the session
// at the end of the cyclic order on first sight.
func (l *lane) enqueue(req *Request) {
	if _, ok := l.sessions[req.SessionID]; !ok {
		l.order = append(l.order, req.SessionID)
	}
	l.sessions[req.SessionID] = append(l.sessions[req.SessionID], req)
}

// pick dispatches the next request in round-robin order: the first session
// at or after the cursor with a pending head wins, and the cursor moves
// past it. Cancelled entries are discarded on the way.
func (l *lane) pick() *Request {
	n := len(l.order)
	for i := 0; i < n; i++ {
		idx := (l.cursor + i) % n
		sid := l.order[idx]

		q := l.sessions[sid]
		for len(q) > 0 && q[0].Status != StatusPending {
			q = q[1:]
		}
		l.sessions[sid] = q

		if len(q) == 0 {
			continue
		}

		req := q[0]
		l.sessions[sid] = q[1:]
		l.cursor = idx + 1
		l.compact()
		return req
	}

	l.compact()
	return nil
}

// compact drops emptied sessions from the cyclic order while keeping the
// cursor pointed at the same logical successor.
func (l *lane) compact() {
	newOrder := make([]string, 0, len(l.order))
	newCursor := 0
	for i, sid := range l.order {
		if len(l.sessions[sid]) == 0 {
			delete(l.sessions, sid)
			continue
		}
		if i < l.cursor {
			newCursor++
		}
		newOrder = append(newOrder, sid)
	}

	l.order = newOrder
	if len(newOrder) > 0 {
		l.cursor = newCursor % len(newOrder)
	} else {
		l.cursor = 0
	}
}

// pendingBySession snapshots per-session pending counts.
func (l *lane) pendingBySession() map[string]int {
	out := make(map[string]int, len(l.sessions))
	for sid, q := range l.sessions {
		count := 0
		for _, req := range q {
			if req.Status == StatusPending {
				count++
			}
		}
		if count > 0 {
			out[sid] = count
		}
	}
	return out
}

// pendingTotal counts pending requests across all sessions.
func (l *lane) pendingTotal() int {
	total := 0
	for _, q := range l.sessions {
		for _, req := range q {
			if req.Status == StatusPending {
				total++
			}
		}
	}
	return total
}

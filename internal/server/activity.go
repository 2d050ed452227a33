package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

const (
	activityBuffer = 256
	activitySize   = 200
)

// activityItem is one recorded violation or monitor event.
type activityItem struct {
	Kind      string               `json:"kind"`
	Violation *core.ViolationRecord `json:"violation,omitempty"`
	Event     *core.MonitorEvent    `json:"event,omitempty"`
}

// activity keeps the most recent records published on the event stream.
type activity struct {
	pub *events.ChanPublisher

	mu    sync.Mutex
	items []activityItem
	next  int
	full  bool
}

func newActivity(pub *events.ChanPublisher, size int) *activity {
	return &activity{pub: pub, items: make([]activityItem, size)}
}

// run moves published records into the ring until ctx is done or the
// publisher is closed.
func (a *activity) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-a.pub.C():
			if !ok {
				return nil
			}
			a.add(m)
		}
	}
}

// drain takes whatever is buffered without blocking.
func (a *activity) drain() {
	for {
		select {
		case m, ok := <-a.pub.C():
			if !ok {
				return
			}
			a.add(m)
		default:
			return
		}
	}
}

func (a *activity) add(m events.Message) {
	item := activityItem{Kind: "violation", Violation: m.Violation}
	if m.Event != nil {
		item = activityItem{Kind: "monitor_event", Event: m.Event}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[a.next] = item
	a.next = (a.next + 1) % len(a.items)
	if a.next == 0 {
		a.full = true
	}
}

// recent returns up to limit items, newest first.
func (a *activity) recent(limit int) []activityItem {
	a.drain()

	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.next
	if a.full {
		n = len(a.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]activityItem, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, a.items[(a.next-i+len(a.items))%len(a.items)])
	}
	return out
}

type activityResponse struct {
	Items   []activityItem `json:"items"`
	Dropped int            `json:"dropped"`
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, r, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, activityResponse{
		Items:   s.activity.recent(limit),
		Dropped: s.activity.pub.Dropped(),
	})
}

package eventloop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
)

// Token identifies a registered timer or source. The zero Token is never
// handed out.
type Token uint64

// TimeoutAction tells the loop what to do with a timer after its callback ran.
type TimeoutAction struct {
	reschedule bool
	after      time.Duration
}

// Drop removes the timer.
func Drop() TimeoutAction { return TimeoutAction{} }

// ToDuration fires the timer again after d.
func ToDuration(d time.Duration) TimeoutAction {
	return TimeoutAction{reschedule: true, after: d}
}

type TimerFunc[D any] func(now time.Time, data D) TimeoutAction

// Loop is a single-threaded dispatcher. Every callback runs on the goroutine
// that calls Run or Dispatch and receives the loop data explicitly. Post is
// the only method that may be called from other goroutines.
type Loop[D any] struct {
	data  D
	clock clockwork.Clock

	next    Token
	timers  timerHeap[D]
	byToken map[Token]*timer[D]
	sources map[Token]chan struct{}
	idles   []func(D)

	// timer whose callback is running, and whether it removed itself
	firing        Token
	firingRemoved bool

	mu    sync.Mutex
	queue []message[D]
	wake  chan struct{}
}

type message[D any] struct {
	token Token
	fn    func(D)
}

func New[D any](clock clockwork.Clock) *Loop[D] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop[D]{
		clock:   clock,
		byToken: make(map[Token]*timer[D]),
		sources: make(map[Token]chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// SetData sets the value passed to every callback. It must be called before
// the loop dispatches anything.
func (l *Loop[D]) SetData(data D) {
	l.data = data
}

func (l *Loop[D]) Clock() clockwork.Clock {
	return l.clock
}

func (l *Loop[D]) token() Token {
	l.next++
	return l.next
}

// InsertTimer registers cb to fire after d. A zero d fires on the next
// dispatch.
func (l *Loop[D]) InsertTimer(d time.Duration, cb TimerFunc[D]) Token {
	t := &timer[D]{
		token:    l.token(),
		deadline: l.clock.Now().Add(d),
		cb:       cb,
	}
	heap.Push(&l.timers, t)
	l.byToken[t.token] = t
	return t.token
}

// InsertIdle runs cb once the currently pending events are dispatched.
func (l *Loop[D]) InsertIdle(cb func(D)) {
	l.idles = append(l.idles, cb)
}

// InsertSource forwards every value received on ch to cb on the loop
// goroutine until the source is removed or ch is closed.
func InsertSource[D, T any](l *Loop[D], ch <-chan T, cb func(T, D)) Token {
	token := l.token()
	done := make(chan struct{})
	l.sources[token] = done

	go func() {
		for {
			select {
			case <-done:
				return
			case v, ok := <-ch:
				if !ok {
					l.post(message[D]{token: token, fn: func(D) { l.Remove(token) }})
					return
				}
				l.post(message[D]{token: token, fn: func(d D) { cb(v, d) }})
			}
		}
	}()
	return token
}

// Remove unregisters a timer or source. Nothing registered under token fires
// after Remove returns.
func (l *Loop[D]) Remove(token Token) {
	if token != 0 && token == l.firing {
		l.firingRemoved = true
		return
	}
	if t, ok := l.byToken[token]; ok {
		heap.Remove(&l.timers, t.index)
		delete(l.byToken, token)
		return
	}
	if done, ok := l.sources[token]; ok {
		close(done)
		delete(l.sources, token)
	}
}

// Registered reports whether token still refers to a live timer or source.
func (l *Loop[D]) Registered(token Token) bool {
	if token != 0 && token == l.firing {
		return !l.firingRemoved
	}
	if _, ok := l.byToken[token]; ok {
		return true
	}
	_, ok := l.sources[token]
	return ok
}

// Post schedules fn on the loop goroutine. Safe for concurrent use.
func (l *Loop[D]) Post(fn func(D)) {
	l.post(message[D]{fn: fn})
}

func (l *Loop[D]) post(m message[D]) {
	l.mu.Lock()
	l.queue = append(l.queue, m)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Dispatch runs everything that is ready right now: posted messages, due
// timers and then idle callbacks. It never blocks and returns the number of
// callbacks run.
func (l *Loop[D]) Dispatch() int {
	n := 0

	l.mu.Lock()
	queue := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, m := range queue {
		if m.token != 0 {
			if _, ok := l.sources[m.token]; !ok {
				continue
			}
		}
		m.fn(l.data)
		n++
	}

	now := l.clock.Now()
	var due []*timer[D]
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		due = append(due, heap.Pop(&l.timers).(*timer[D]))
	}
	for _, t := range due {
		// an earlier callback of this round may have removed it
		if l.byToken[t.token] != t {
			continue
		}
		delete(l.byToken, t.token)
		l.firing, l.firingRemoved = t.token, false
		action := t.cb(now, l.data)
		removed := l.firingRemoved
		l.firing, l.firingRemoved = 0, false
		n++
		if action.reschedule && !removed {
			t.deadline = l.clock.Now().Add(action.after)
			heap.Push(&l.timers, t)
			l.byToken[t.token] = t
		}
	}

	idles := l.idles
	l.idles = nil
	for _, cb := range idles {
		cb(l.data)
		n++
	}

	return n
}

// Run dispatches until ctx is cancelled.
func (l *Loop[D]) Run(ctx context.Context) error {
	log.Debug("event loop started")
	defer log.Debug("event loop stopped")

	for {
		l.Dispatch()

		if len(l.idles) > 0 || l.pending() {
			continue
		}

		var (
			timeout <-chan time.Time
			t       clockwork.Timer
		)
		if l.timers.Len() > 0 {
			wait := l.timers[0].deadline.Sub(l.clock.Now())
			if wait <= 0 {
				continue
			}
			t = l.clock.NewTimer(wait)
			timeout = t.Chan()
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			for token := range l.sources {
				l.Remove(token)
			}
			return ctx.Err()
		case <-l.wake:
		case <-timeout:
		}
		if t != nil {
			t.Stop()
		}
	}
}

func (l *Loop[D]) pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0
}

type timer[D any] struct {
	token    Token
	deadline time.Time
	cb       TimerFunc[D]
	index    int
}

type timerHeap[D any] []*timer[D]

func (h timerHeap[D]) Len() int { return len(h) }

func (h timerHeap[D]) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].token < h[j].token
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap[D]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap[D]) Push(x any) {
	t := x.(*timer[D])
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap[D]) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

package session

import "sync"

type Signal int

const (
	// ActivateSession fires after a VT switch back to this session.
	ActivateSession Signal = iota
	// PauseSession fires when the session loses access to its devices.
	PauseSession
)

func (s Signal) String() string {
	switch s {
	case ActivateSession:
		return "activate"
	case PauseSession:
		return "pause"
	default:
		return "unknown"
	}
}

type Token uint64

// Signaler distributes session signals to registered observers. Observers are
// called on the emitting goroutine and must hand work off to the event loop.
type Signaler struct {
	mu        sync.Mutex
	next      Token
	observers map[Token]func(Signal)
}

func NewSignaler() *Signaler {
	return &Signaler{observers: make(map[Token]func(Signal))}
}

func (s *Signaler) Register(fn func(Signal)) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.observers[s.next] = fn
	return s.next
}

func (s *Signaler) Unregister(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, t)
}

func (s *Signaler) Emit(sig Signal) {
	s.mu.Lock()
	fns := make([]func(Signal), 0, len(s.observers))
	for t := Token(1); t <= s.next; t++ {
		if fn, ok := s.observers[t]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}

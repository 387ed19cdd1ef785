package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalerDeliversInRegistrationOrder(t *testing.T) {
	s := NewSignaler()
	var got []string

	a := s.Register(func(sig Signal) { got = append(got, "a:"+sig.String()) })
	s.Register(func(sig Signal) { got = append(got, "b:"+sig.String()) })

	s.Emit(ActivateSession)
	s.Unregister(a)
	s.Emit(PauseSession)

	assert.Equal(t, []string{"a:activate", "b:activate", "b:pause"}, got)
}

func TestSignalerObserverMayUnregisterItself(t *testing.T) {
	s := NewSignaler()
	calls := 0
	var tok Token
	tok = s.Register(func(Signal) {
		calls++
		s.Unregister(tok)
	})

	s.Emit(ActivateSession)
	s.Emit(ActivateSession)
	assert.Equal(t, 1, calls)
}

// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to inject server messages and inspect what the client sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.ServerMessage{Interrupted: true})
//	sess.Fail(live.ErrConnection)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

// Compile-time assertions.
var (
	_ live.Provider      = (*Provider)(nil)
	_ live.SessionHandle = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, when non-nil, makes Connect wait until it is closed or the
	// context is done. Use it to hold a session in the connecting state.
	Block chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// CallCountConnect returns the number of Connect calls.
func (p *Provider) CallCountConnect() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastConfig returns the config passed to the most recent Connect call.
func (p *Provider) LastConfig() live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ConnectCalls) == 0 {
		return live.SessionConfig{}
	}
	return p.ConnectCalls[len(p.ConnectCalls)-1].Cfg
}

// Session is a mock implementation of live.SessionHandle.
type Session struct {
	messages chan live.ServerMessage
	done     chan struct{}
	endOnce  sync.Once

	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// CloseErr is returned by Close.
	CloseErr error

	sent       []live.Media
	err        error
	closeCalls int
}

// NewSession returns a Session with a buffered message channel.
func NewSession() *Session {
	return &Session{
		messages: make(chan live.ServerMessage, 64),
		done:     make(chan struct{}),
	}
}

// Emit delivers msg to the consumer. It reports false if the session has
// already ended.
func (s *Session) Emit(msg live.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.messages <- msg:
		return true
	case <-s.done:
		return false
	}
}

// Fail ends the session as if the transport broke with err.
func (s *Session) Fail(err error) {
	s.end(err)
}

func (s *Session) end(err error) {
	s.endOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.err = err
		close(s.messages)
		s.mu.Unlock()
	})
}

// SendRealtimeInput records m.
func (s *Session) SendRealtimeInput(_ context.Context, m live.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return live.ErrSessionClosed
	default:
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, m)
	return nil
}

// Messages implements live.SessionHandle.
func (s *Session) Messages() <-chan live.ServerMessage { return s.messages }

// Err implements live.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session cleanly. Idempotent.
func (s *Session) Close() error {
	s.end(nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return s.CloseErr
}

// Sent returns a copy of every media chunk sent so far.
func (s *Session) Sent() []live.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.Media, len(s.sent))
	copy(out, s.sent)
	return out
}

// CallCountClose returns the number of Close calls.
func (s *Session) CallCountClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Closed reports whether the session has ended through Close or Fail.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

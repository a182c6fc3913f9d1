package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Session issues one request at a time over a Client's channels and waits
// for its response before the next request is sent. A caller that abandons
// a turn (context done after the request went out) leaves a response owed;
// the next turn discards owed responses before reading its own. Requests
// over the payload limit are refused before they are queued.
type Session struct {
	mu        sync.Mutex
	control   chan<- Message
	responses *Responses
	owed      int
	closed    bool
}

func NewSession(control chan<- Message, responses *Responses) *Session {
	return &Session{control: control, responses: responses}
}

// Do sends msg and returns the raw response payload for it.
func (s *Session) Do(ctx context.Context, msg Message) ([]byte, error) {
	if _, ok := msg.(Shutdown); ok {
		return nil, fmt.Errorf("%w: shutdown has no response, use Session.Shutdown", ErrUnknownMessage)
	}
	pkt, err := packetFor(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBuild, msg, err)
	}
	if err := s.responses.limits.Check(len(pkt.Payload())); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestTooLarge, msg, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	select {
	case s.control <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		payload, err := s.responses.Recv(ctx)
		if err != nil && !isSlotError(err) {
			if ctx.Err() != nil {
				s.owed++
			}
			return nil, err
		}
		if s.owed > 0 {
			s.owed--
			continue
		}
		return payload, err
	}
}

// isSlotError reports whether err came from a reply slot, which answers
// one request just like a payload does.
func isSlotError(err error) bool {
	return errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrRequestTooLarge)
}

// Request is Do followed by ParseResponse. Failure replies become
// ErrAgentFailure.
func (s *Session) Request(ctx context.Context, msg Message) (Response, error) {
	payload, err := s.Do(ctx, msg)
	if err != nil {
		return nil, err
	}
	resp, err := ParseResponse(payload)
	if err != nil {
		return nil, err
	}
	switch resp.(type) {
	case Failure, ExtensionFailure:
		return nil, fmt.Errorf("%w: %s", ErrAgentFailure, msg)
	}
	return resp, nil
}

func (s *Session) expectSuccess(ctx context.Context, msg Message) error {
	resp, err := s.Request(ctx, msg)
	if err != nil {
		return err
	}
	if _, ok := resp.(Success); !ok {
		return fmt.Errorf("%w: %s answered with %s", ErrUnexpectedResponse, msg, resp.Kind())
	}
	return nil
}

func (s *Session) List(ctx context.Context) ([]Identity, error) {
	resp, err := s.Request(ctx, List{})
	if err != nil {
		return nil, err
	}
	answer, ok := resp.(IdentitiesAnswer)
	if !ok {
		return nil, fmt.Errorf("%w: list answered with %s", ErrUnexpectedResponse, resp.Kind())
	}
	return answer.Identities, nil
}

func (s *Session) Add(ctx context.Context, keyType string, keyBlob []byte, comment string) error {
	return s.expectSuccess(ctx, Add{KeyType: []byte(keyType), KeyBlob: keyBlob, Comment: []byte(comment)})
}

func (s *Session) AddConstrained(ctx context.Context, keyType string, keyBlob []byte, comment string, constraints ...Constraint) error {
	if len(constraints) == 0 {
		return s.Add(ctx, keyType, keyBlob, comment)
	}
	return s.expectSuccess(ctx, AddConstrained{
		KeyType:     []byte(keyType),
		KeyBlob:     keyBlob,
		Comment:     []byte(comment),
		Constraints: JoinConstraints(constraints...),
	})
}

func (s *Session) Remove(ctx context.Context, keyBlob []byte) error {
	return s.expectSuccess(ctx, Remove{KeyBlob: keyBlob})
}

func (s *Session) RemoveAll(ctx context.Context) error {
	return s.expectSuccess(ctx, RemoveAll{})
}

// Sign returns the signature blob: string(format) string(signature).
func (s *Session) Sign(ctx context.Context, keyBlob, data []byte, flags uint32) ([]byte, error) {
	resp, err := s.Request(ctx, Sign{KeyBlob: keyBlob, Data: data, Flags: flags})
	if err != nil {
		return nil, err
	}
	sig, ok := resp.(SignResponse)
	if !ok {
		return nil, fmt.Errorf("%w: sign answered with %s", ErrUnexpectedResponse, resp.Kind())
	}
	return sig.Signature, nil
}

func (s *Session) Lock(ctx context.Context, passphrase []byte) error {
	return s.expectSuccess(ctx, Lock{Passphrase: passphrase})
}

func (s *Session) Unlock(ctx context.Context, passphrase []byte) error {
	return s.expectSuccess(ctx, Unlock{Passphrase: passphrase})
}

// Shutdown asks the engine to stop. Later calls fail with ErrSessionClosed.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.control <- Shutdown{}:
		s.closed = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package agent

import "errors"

var (
	ErrWrite              = errors.New("agent: write to stream failed")
	ErrRead               = errors.New("agent: agent stream lost")
	ErrBuild              = errors.New("agent: build packet failed")
	ErrResponsesClosed    = errors.New("agent: response receiver closed")
	ErrEngineStopped      = errors.New("agent: engine stopped")
	ErrAlreadyRunning     = errors.New("agent: client already running")
	ErrTooManyAnomalies   = errors.New("agent: too many protocol anomalies")
	ErrUnknownMessage     = errors.New("agent: unknown message")
	ErrSessionClosed      = errors.New("agent: session closed")
	ErrAgentFailure       = errors.New("agent: agent reported failure")
	ErrUnexpectedResponse = errors.New("agent: unexpected response")
	ErrInvalidConstraint  = errors.New("agent: invalid constraint")
	ErrUnsupportedKey     = errors.New("agent: unsupported key type")
	ErrMalformedResponse  = errors.New("agent: malformed response frame")
	ErrRequestTooLarge    = errors.New("agent: request exceeds payload limit")
)

package agent

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/danmuck/agentctl/internal/observability"
	"github.com/danmuck/agentctl/internal/protocol/packet"
	"github.com/rs/zerolog"
)

// Client owns one agent stream while Run executes. It writes one request
// packet per Message and forwards every response packet, in stream order,
// to Responses. A malformed inbound frame or a request refused for size
// still fills one reply slot, as an error Reply. It does not pair requests
// with responses.
type Client struct {
	cfg       Config
	log       zerolog.Logger
	control   chan Message
	responses *Responses
	started   atomic.Bool
	anomalies int
}

type readResult struct {
	packet packet.Packet
	err    error
}

// NewClient returns the control sender for the application, the response
// receiver for the application, and the engine.
func NewClient(cfg Config) (chan<- Message, *Responses, *Client) {
	cfg = cfg.WithDefaults()
	control := make(chan Message, cfg.ControlCapacity)
	responses := newResponses(cfg.ResponseCapacity, cfg.Limits)
	c := &Client{
		cfg:       cfg,
		log:       *cfg.Logger,
		control:   control,
		responses: responses,
	}
	return control, responses, c
}

// Run drives the engine until Shutdown, until the control channel is
// closed, or until a fatal error. It does not close stream; closing it after
// Run returns releases the reader goroutine.
func (c *Client) Run(ctx context.Context, stream io.ReadWriter) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.responses.ch)

	done := make(chan struct{})
	defer close(done)
	reads := make(chan readResult)
	go c.readLoop(stream, reads, done)

	c.log.Debug().Msg("agent client running")
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Err(ctx.Err()).Msg("agent client cancelled")
			return ctx.Err()
		case msg, ok := <-c.control:
			if !ok {
				c.log.Debug().Msg("control channel closed, shutting down")
				return nil
			}
			stop, err := c.handleMessage(ctx, stream, msg)
			if err != nil {
				c.log.Error().Err(err).Stringer("message", msg).Msg("agent client stopped")
				return err
			}
			if stop {
				c.log.Debug().Msg("shutdown received")
				return nil
			}
		case res := <-reads:
			if err := c.handleRead(ctx, res); err != nil {
				c.log.Error().Err(err).Msg("agent client stopped")
				return err
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, w io.Writer, msg Message) (bool, error) {
	c.log.Trace().Stringer("message", msg).Msg("agent <= message")
	if _, ok := msg.(Shutdown); ok {
		return true, nil
	}
	pkt, err := packetFor(msg)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrBuild, msg, err)
	}
	// an oversize request never reaches the stream; its reply slot carries
	// the refusal so the caller waiting on it is not left hanging
	if err := c.cfg.Limits.Check(len(pkt.Payload())); err != nil {
		c.log.Warn().Err(err).Stringer("message", msg).Msg("refused oversize request")
		return false, c.forward(ctx, Reply{Err: fmt.Errorf("%w: %s: %w", ErrRequestTooLarge, msg, err)})
	}
	if err := packet.WritePacket(w, pkt, c.cfg.Limits); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrWrite, pkt.Kind(), err)
	}
	observability.RecordPacketWritten(pkt.Kind().String())
	c.log.Trace().Stringer("kind", pkt.Kind()).Int("len", len(pkt.Payload())).Msg("agent => packet")
	return false, nil
}

func (c *Client) handleRead(ctx context.Context, res readResult) error {
	if res.err != nil {
		if packet.IsMalformedFrame(res.err) {
			observability.RecordReadError(false)
			c.log.Warn().Err(res.err).Msg("dropped malformed packet")
			return c.forward(ctx, Reply{Err: fmt.Errorf("%w: %w", ErrMalformedResponse, res.err)})
		}
		observability.RecordReadError(true)
		return fmt.Errorf("%w: %w", ErrRead, res.err)
	}

	kind := res.packet.Kind()
	observability.RecordPacketRead(kind.String())
	c.log.Trace().Stringer("kind", kind).Int("len", len(res.packet.Payload())).Msg("agent <= packet")
	if !kind.IsResponse() {
		c.anomalies++
		observability.RecordProtocolAnomaly()
		_, known := packet.KindFromByte(byte(kind))
		c.log.Warn().
			Stringer("kind", kind).
			Bool("known_kind", known).
			Int("consecutive", c.anomalies).
			Msg("dropped non-response packet")
		if c.cfg.MaxProtocolAnomalies > 0 && c.anomalies >= c.cfg.MaxProtocolAnomalies {
			return fmt.Errorf("%w: %d consecutive, last %s", ErrTooManyAnomalies, c.anomalies, kind)
		}
		return nil
	}
	c.anomalies = 0
	return c.forward(ctx, Reply{Payload: res.packet.Payload()})
}

// forward fills the next reply slot. It fails once the application has
// closed Responses.
func (c *Client) forward(ctx context.Context, reply Reply) error {
	if c.responses.isClosed() {
		return ErrResponsesClosed
	}
	select {
	case c.responses.ch <- reply:
		if reply.Err == nil {
			observability.RecordResponseForwarded()
		}
		return nil
	case <-c.responses.closed:
		return ErrResponsesClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop hands the engine one packet at a time and exits after the first
// error that is not a malformed frame, or when Run returns.
func (c *Client) readLoop(r io.Reader, out chan<- readResult, done <-chan struct{}) {
	for {
		pkt, err := packet.ReadPacket(r, c.cfg.Limits)
		select {
		case out <- readResult{packet: pkt, err: err}:
		case <-done:
			return
		}
		if err != nil && !packet.IsMalformedFrame(err) {
			return
		}
	}
}

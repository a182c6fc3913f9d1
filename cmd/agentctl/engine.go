package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/agentctl/internal/agent"
	"github.com/danmuck/agentctl/internal/config"
)

const shutdownWait = 2 * time.Second

// engine is one running agent client and the session that drives it.
type engine struct {
	session *agent.Session
	conn    net.Conn
	done    chan struct{}
	err     error
}

func (c *cli) connect(ctx context.Context) (*engine, error) {
	if err := config.Validate(c.cfg); err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	conn, err := c.dial(dialCtx, c.cfg.Socket)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.cfg.Socket, err)
	}

	control, responses, client := agent.NewClient(c.cfg.AgentConfig())
	e := &engine{
		session: agent.NewSession(control, responses),
		conn:    conn,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		e.err = client.Run(context.Background(), conn)
	}()
	return e, nil
}

// Done is closed once the client has stopped.
func (e *engine) Done() <-chan struct{} {
	return e.done
}

// Close stops the client, closes the socket and returns the client's exit
// error.
func (e *engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	_ = e.session.Shutdown(ctx)

	select {
	case <-e.done:
	case <-ctx.Done():
	}
	closeErr := e.conn.Close()
	<-e.done
	if e.err != nil {
		return e.err
	}
	return closeErr
}

// request runs fn against a fresh engine with the configured timeout.
func (c *cli) request(ctx context.Context, fn func(ctx context.Context, s *agent.Session) error) error {
	e, err := c.connect(ctx)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if err := fn(reqCtx, e.session); err != nil {
		_ = e.Close()
		return err
	}
	return e.Close()
}

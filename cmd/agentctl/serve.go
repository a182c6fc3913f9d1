package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/danmuck/agentctl/internal/bridge"
	"github.com/danmuck/agentctl/internal/observability"
	"github.com/spf13/pflag"
)

const envBridgeToken = "AGENTCTL_BRIDGE_TOKEN"

func (c *cli) serve(ctx context.Context, args []string) error {
	cfg := c.cfg.Bridge
	flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	flagSet.StringVar(&cfg.Addr, "addr", cfg.Addr, "bridge listen address")
	flagSet.StringSliceVar(&cfg.CorsOrigins, "cors-origin", cfg.CorsOrigins, "allowed CORS origins")
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}
	if token := strings.TrimSpace(os.Getenv(envBridgeToken)); token != "" {
		cfg.Token = token
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return errors.New("serve: --addr is required")
	}

	e, err := c.connect(ctx)
	if err != nil {
		return err
	}
	log := observability.Component("serve")

	srv := bridge.New(e.session, cfg, c.cfg.RequestTimeout)
	srv.SetReady(true)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.Done():
			srv.SetReady(false)
			log.Error().Msg("agent client stopped, shutting down bridge")
			cancel()
		case <-serveCtx.Done():
		}
	}()

	serveErr := srv.Serve(serveCtx)
	closeErr := e.Close()
	if serveErr != nil {
		return serveErr
	}
	return closeErr
}

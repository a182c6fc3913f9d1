package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/agentctl/internal/config"
	"github.com/danmuck/agentctl/internal/logging"
	"github.com/spf13/pflag"
)

type dialFunc func(ctx context.Context, socket string) (net.Conn, error)

type cli struct {
	in   io.Reader
	out  io.Writer
	dial dialFunc

	configPath string
	cfg        config.Config
}

type command struct {
	name  string
	usage string
	run   func(c *cli, ctx context.Context, args []string) error
}

func commandTable() []command {
	return []command{
		{name: "list", usage: "list [-l]                      list identities held by the agent", run: (*cli).list},
		{name: "add", usage: "add [--lifetime d] [--confirm] KEY   add a private key", run: (*cli).add},
		{name: "remove", usage: "remove PUBKEY                  remove the identity for a public key", run: (*cli).remove},
		{name: "remove-all", usage: "remove-all                     remove every identity", run: (*cli).removeAll},
		{name: "sign", usage: "sign [--data f] [--hash h] PUBKEY   sign data with an identity", run: (*cli).sign},
		{name: "lock", usage: "lock [--passphrase-file f]     lock the agent", run: (*cli).lock},
		{name: "unlock", usage: "unlock [--passphrase-file f]   unlock the agent", run: (*cli).unlock},
		{name: "serve", usage: "serve [--addr a]               serve the HTTP bridge", run: (*cli).serve},
		{name: "config", usage: "config init|show|validate      manage the config file", run: (*cli).config},
	}
}

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{in: os.Stdin, out: os.Stdout, dial: dialUnix}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
}

func dialUnix(ctx context.Context, socket string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", socket)
}

func (c *cli) run(ctx context.Context, args []string) error {
	var socket string
	flagSet := pflag.NewFlagSet("agentctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.SetOutput(c.out)
	flagSet.StringVarP(&c.configPath, "config", "c", "", "path to agentctl.toml (defaults apply when empty)")
	flagSet.StringVarP(&socket, "socket", "s", "", "agent socket path (overrides config and "+config.EnvAuthSock+")")
	flagSet.Usage = func() { c.usage(flagSet) }
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		c.usage(flagSet)
		return errors.New("missing command")
	}

	cfg := config.Default()
	if c.configPath != "" {
		loaded, err := config.Decode(c.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if flagSet.Changed("socket") {
		cfg.Socket = strings.TrimSpace(socket)
	}
	c.cfg = cfg

	for _, cmd := range commandTable() {
		if cmd.name == rest[0] {
			return cmd.run(c, ctx, rest[1:])
		}
	}
	c.usage(flagSet)
	return fmt.Errorf("unknown command %q", rest[0])
}

func (c *cli) usage(flagSet *pflag.FlagSet) {
	fmt.Fprintln(c.out, "usage: agentctl [--config path] [--socket path] <command> [flags]")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "commands:")
	for _, cmd := range commandTable() {
		fmt.Fprintf(c.out, "  %s\n", cmd.usage)
	}
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "flags:")
	fmt.Fprint(c.out, flagSet.FlagUsages())
}

// parseFlags parses a subcommand flag set. It reports done when help was
// requested and the command should return without running.
func parseFlags(flagSet *pflag.FlagSet, args []string) (done bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

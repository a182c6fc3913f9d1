package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/agentctl/internal/config"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "agentctl.toml"

func (c *cli) config(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("config: expected init, show or validate")
	}
	switch args[0] {
	case "init":
		return c.configInit(args[1:])
	case "show":
		out, err := config.Render(c.cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(c.out, out)
		return nil
	case "validate":
		if err := config.Validate(c.cfg); err != nil {
			return err
		}
		source := c.configPath
		if source == "" {
			source = "defaults"
		}
		fmt.Fprintf(c.out, "Validated config from %s\n", source)
		return nil
	default:
		return fmt.Errorf("config: unknown subcommand %q", args[0])
	}
}

func (c *cli) configInit(args []string) error {
	var output string
	var force, stdout bool
	flagSet := pflag.NewFlagSet("config init", pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	flagSet.StringVarP(&output, "output", "o", defaultConfigPath, "output path for the config template")
	flagSet.BoolVar(&force, "force", false, "overwrite an existing config file")
	flagSet.BoolVar(&stdout, "stdout", false, "print the template instead of writing a file")
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}
	if stdout {
		fmt.Fprint(c.out, config.Template())
		return nil
	}
	if err := config.WriteTemplate(output, force); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Wrote config template to %s\n", output)
	return nil
}

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/agentctl/internal/agent"
	"github.com/danmuck/agentctl/internal/protocol/packet"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/ssh"
)

func (c *cli) list(ctx context.Context, args []string) error {
	var fingerprints bool
	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	flagSet.BoolVarP(&fingerprints, "fingerprints", "l", false, "print fingerprints instead of public keys")
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}

	return c.request(ctx, func(ctx context.Context, s *agent.Session) error {
		ids, err := s.List(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(c.out, "The agent has no identities.")
			return nil
		}
		for _, id := range ids {
			if fingerprints {
				pub, err := id.PublicKey()
				if err != nil {
					fmt.Fprintf(c.out, "unparsed key (%d bytes) %s\n", len(id.KeyBlob), id.Comment)
					continue
				}
				fmt.Fprintf(c.out, "%s %s (%s)\n", ssh.FingerprintSHA256(pub), id.Comment, pub.Type())
				continue
			}
			line, err := id.AuthorizedKey()
			if err != nil {
				fmt.Fprintf(c.out, "unparsed key (%d bytes) %s\n", len(id.KeyBlob), id.Comment)
				continue
			}
			fmt.Fprintln(c.out, line)
		}
		return nil
	})
}

func (c *cli) add(ctx context.Context, args []string) error {
	var (
		lifetime time.Duration
		confirm  bool
		comment  string
	)
	flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	flagSet.DurationVarP(&lifetime, "lifetime", "t", 0, "remove the identity after this long (whole seconds)")
	flagSet.BoolVar(&confirm, "confirm", false, "require confirmation for each use")
	flagSet.StringVarP(&comment, "comment", "C", "", "identity comment (defaults to the key file name)")
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("add: expected one private key file")
	}
	path := flagSet.Arg(0)

	keyType, blob, err := loadPrivateKey(path)
	if err != nil {
		return err
	}
	if comment == "" {
		comment = filepath.Base(path)
	}
	constraints, err := buildConstraints(lifetime, confirm)
	if err != nil {
		return err
	}

	return c.request(ctx, func(ctx context.Context, s *agent.Session) error {
		if err := s.AddConstrained(ctx, keyType, blob, comment, constraints...); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Identity added: %s\n", comment)
		return nil
	})
}

func (c *cli) remove(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("remove", pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("remove: expected one public key file")
	}
	pub, comment, err := loadPublicKey(flagSet.Arg(0))
	if err != nil {
		return err
	}

	return c.request(ctx, func(ctx context.Context, s *agent.Session) error {
		if err := s.Remove(ctx, agent.PublicKeyBlob(pub)); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Identity removed: %s %s\n", ssh.FingerprintSHA256(pub), comment)
		return nil
	})
}

func (c *cli) removeAll(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("remove-all", pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}

	return c.request(ctx, func(ctx context.Context, s *agent.Session) error {
		if err := s.RemoveAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "All identities removed.")
		return nil
	})
}

func (c *cli) sign(ctx context.Context, args []string) error {
	var dataPath, hash string
	flagSet := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	flagSet.StringVarP(&dataPath, "data", "d", "-", "file to sign, - for stdin")
	flagSet.StringVar(&hash, "hash", "", "rsa signature hash: sha256 or sha512")
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("sign: expected one public key file")
	}
	flags, err := signFlags(hash)
	if err != nil {
		return err
	}
	pub, _, err := loadPublicKey(flagSet.Arg(0))
	if err != nil {
		return err
	}
	data, err := c.readInput(dataPath)
	if err != nil {
		return err
	}

	return c.request(ctx, func(ctx context.Context, s *agent.Session) error {
		blob, err := s.Sign(ctx, agent.PublicKeyBlob(pub), data, flags)
		if err != nil {
			return err
		}
		sig, err := agent.SignResponse{Signature: blob}.ParseSignature()
		if err != nil {
			return fmt.Errorf("decode signature: %w", err)
		}
		if err := pub.Verify(data, sig); err != nil {
			return fmt.Errorf("agent signature does not verify: %w", err)
		}
		fmt.Fprintf(c.out, "%s %s\n", sig.Format, base64.StdEncoding.EncodeToString(sig.Blob))
		return nil
	})
}

func (c *cli) lock(ctx context.Context, args []string) error {
	return c.passphraseCommand(ctx, "lock", args, func(ctx context.Context, s *agent.Session, p []byte) error {
		if err := s.Lock(ctx, p); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Agent locked.")
		return nil
	})
}

func (c *cli) unlock(ctx context.Context, args []string) error {
	return c.passphraseCommand(ctx, "unlock", args, func(ctx context.Context, s *agent.Session, p []byte) error {
		if err := s.Unlock(ctx, p); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Agent unlocked.")
		return nil
	})
}

func (c *cli) passphraseCommand(ctx context.Context, name string, args []string, fn func(context.Context, *agent.Session, []byte) error) error {
	var passphraseFile string
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(c.out)
	flagSet.StringVarP(&passphraseFile, "passphrase-file", "p", "-", "file holding the passphrase on its first line, - for stdin")
	if done, err := parseFlags(flagSet, args); done || err != nil {
		return err
	}
	passphrase, err := c.readPassphrase(passphraseFile)
	if err != nil {
		return err
	}
	return c.request(ctx, func(ctx context.Context, s *agent.Session) error {
		return fn(ctx, s, passphrase)
	})
}

func buildConstraints(lifetime time.Duration, confirm bool) ([]agent.Constraint, error) {
	var out []agent.Constraint
	if lifetime != 0 {
		secs := lifetime / time.Second
		if secs <= 0 || secs > math.MaxUint32 {
			return nil, fmt.Errorf("lifetime %s out of range", lifetime)
		}
		out = append(out, agent.Lifetime(uint32(secs)))
	}
	if confirm {
		out = append(out, agent.Confirm())
	}
	return out, nil
}

func signFlags(hash string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(hash)) {
	case "":
		return 0, nil
	case "sha256", "rsa-sha2-256":
		return packet.SignFlagRSASHA256, nil
	case "sha512", "rsa-sha2-512":
		return packet.SignFlagRSASHA512, nil
	default:
		return 0, fmt.Errorf("unknown hash %q", hash)
	}
}

func loadPrivateKey(path string) (string, []byte, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read key: %w", err)
	}
	key, err := ssh.ParseRawPrivateKey(pemBytes)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return "", nil, fmt.Errorf("%s is encrypted; decrypt it first", path)
		}
		return "", nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	return agent.EncodePrivateKey(key)
}

func loadPublicKey(path string) (ssh.PublicKey, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read public key: %w", err)
	}
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, "", fmt.Errorf("parse public key %s: %w", path, err)
	}
	return pub, comment, nil
}

func (c *cli) readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(c.in)
	}
	return os.ReadFile(path)
}

func (c *cli) readPassphrase(path string) ([]byte, error) {
	var r io.Reader = c.in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open passphrase file: %w", err)
		}
		defer f.Close()
		r = f
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty passphrase")
	}
	return []byte(line), nil
}

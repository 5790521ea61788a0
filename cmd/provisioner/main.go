package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/hybrid-tag/cmd/flags"
	"github.com/ruteri/hybrid-tag/cryptoutils"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/provisioning"
	"github.com/ruteri/hybrid-tag/radio/tinygoble"
	"github.com/urfave/cli/v2"
)

var provisionFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "mode",
		Value: "dual",
		Usage: "tag provisioning layout: 'dual' or 'single'",
	},
	&cli.StringFlag{
		Name:    "auth-code",
		Value:   provisioning.DefaultAuthCode,
		Usage:   "8-byte auth code configured on the tag",
		EnvVars: []string{"HYBRIDTAG_AUTH_CODE"},
	},
	&cli.StringFlag{
		Name:     "apple-key",
		Required: true,
		Usage:    "28-byte Apple key (hex or base64)",
	},
	&cli.StringFlag{
		Name:  "google-key",
		Usage: "20-byte Google key (hex or base64), required in dual mode",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "give up after this long",
	},
	&cli.IntFlag{
		Name:  "attempts",
		Value: 3,
		Usage: "connection attempts before giving up",
	},
}

func main() {
	app := &cli.App{
		Name:  "provisioner",
		Usage: "Provision and inspect hybrid tracking tags",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "provision",
				Usage:  "Write new keys to a tag in provisioning mode",
				Flags:  provisionFlags,
				Action: provision,
			},
			{
				Name:  "scan",
				Usage: "Decode nearby Apple and Google tracking frames",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "duration", Value: 10 * time.Second, Usage: "how long to scan"},
				},
				Action: scan,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func provision(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	mode, err := provisioning.ParseMode(cCtx.String("mode"))
	if err != nil {
		return err
	}
	apple, err := cryptoutils.ParseAppleKey(cCtx.String("apple-key"))
	if err != nil {
		return fmt.Errorf("apple key: %w", err)
	}
	var google *interfaces.GoogleKey
	if s := cCtx.String("google-key"); s != "" {
		k, err := cryptoutils.ParseGoogleKey(s)
		if err != nil {
			return fmt.Errorf("google key: %w", err)
		}
		google = &k
	}

	plan, err := provisioning.PlanWrites(mode, cCtx.String("auth-code"), &apple, google)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cCtx.Duration("timeout"))
	defer cancel()

	central := tinygoble.NewCentral(nil, logger)
	if err := central.Enable(); err != nil {
		return fmt.Errorf("enabling adapter: %w", err)
	}

	layout := mode.Layout()
	var status []byte
	attempt := 0
	op := func() error {
		attempt++
		addr, err := central.FindTag(ctx, layout)
		if err != nil {
			if errors.Is(err, tinygoble.ErrTagNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		status, err = central.Provision(ctx, addr, layout, plan)
		if err != nil {
			logger.Warn("Provisioning attempt failed", "attempt", attempt, "err", err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(cCtx.Int("attempts")-1, 0))),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	if status == nil {
		logger.Info("Keys written, tag did not expose a status characteristic")
		return nil
	}
	state, result, tagMode, err := provisioning.DecodeStatus(status)
	if err != nil {
		return err
	}
	logger.Info("Provisioning finished",
		"state", state.String(),
		"commit", result.String(),
		"mode", tagMode.String())
	if result == provisioning.CommitFailed {
		return errors.New("tag could not persist the keys")
	}
	return nil
}

func scan(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cCtx.Duration("duration"))
	defer cancel()

	central := tinygoble.NewCentral(nil, logger)
	if err := central.Enable(); err != nil {
		return fmt.Errorf("enabling adapter: %w", err)
	}

	return central.Scan(ctx, func(s tinygoble.Sighting) {
		args := []any{
			"addr", s.Address.String(),
			"rssi", s.RSSI,
			"protocol", s.Observation.Protocol.String(),
		}
		if s.AppleKey != nil {
			args = append(args, "apple_key", s.AppleKey.String())
		}
		logger.Info("Tracking frame", args...)
	})
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/hybrid-tag/beacon"
	"github.com/ruteri/hybrid-tag/cmd/flags"
	"github.com/ruteri/hybrid-tag/config"
	"github.com/ruteri/hybrid-tag/cryptoutils"
	"github.com/ruteri/hybrid-tag/httpserver"
	"github.com/ruteri/hybrid-tag/identity"
	"github.com/ruteri/hybrid-tag/indicator"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/radio/sim"
	"github.com/ruteri/hybrid-tag/radio/tinygoble"
	"github.com/ruteri/hybrid-tag/restart"
	"github.com/ruteri/hybrid-tag/storage"
	"github.com/ruteri/hybrid-tag/tag"
	"github.com/urfave/cli/v2"
)

// configKeys are the run flags that map onto config.Config fields.
var configKeys = []string{
	"radio", "mode", "auth-code", "google-format", "initial-protocol",
	"rotation-interval", "restart-delay", "default-apple-key", "default-google-key",
	"storage", "seal-passphrase", "listen-addr", "metrics-addr", "systemd-unit",
}

var runFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "optional config file (yaml, toml or json); HYBRIDTAG_* env vars override it",
	},
	&cli.StringFlag{
		Name:  "radio",
		Usage: "radio backend: 'tinygo' or 'sim'",
	},
	&cli.StringFlag{
		Name:  "mode",
		Usage: "provisioning layout: 'dual' or 'single'",
	},
	&cli.StringFlag{
		Name:  "auth-code",
		Usage: "8-byte provisioning auth code",
	},
	&cli.StringFlag{
		Name:  "google-format",
		Usage: "FMDN frame layout: 'feaa' or 'fe2c'",
	},
	&cli.StringFlag{
		Name:  "initial-protocol",
		Usage: "protocol advertised first after boot: 'apple' or 'google'",
	},
	&cli.DurationFlag{
		Name:  "rotation-interval",
		Usage: "time between protocol switches",
	},
	&cli.DurationFlag{
		Name:  "restart-delay",
		Usage: "delay between a successful commit and the restart",
	},
	&cli.StringFlag{
		Name:  "default-apple-key",
		Usage: "Apple key advertised until provisioned (hex or base64)",
	},
	&cli.StringFlag{
		Name:  "default-google-key",
		Usage: "Google key advertised until provisioned (hex or base64)",
	},
	&cli.StringSliceFlag{
		Name:  "storage",
		Usage: "identity storage URI, repeatable (memory://, file://, s3://, ipfs://, vault://, sqlite://, postgres://)",
	},
	&cli.StringFlag{
		Name:  "seal-passphrase",
		Usage: "encrypt the stored identity with a key derived from this passphrase",
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Usage: "address to listen on for the status API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "systemd-unit",
		Usage: "restart this unit over D-Bus after provisioning; exits with code 75 otherwise",
	},
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	app := &cli.App{
		Name:  "hybridtag",
		Usage: "Dual-protocol Bluetooth tracking tag",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Advertise the tag and serve provisioning",
				Flags:  runFlags,
				Action: runTag,
			},
			{
				Name:  "frame",
				Usage: "Print the address and payload a tag would advertise",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "apple-key", Usage: "Apple key (hex or base64), defaults to the built-in key"},
					&cli.StringFlag{Name: "google-key", Usage: "Google key (hex or base64), defaults to the built-in key"},
					&cli.StringFlag{Name: "google-format", Value: "feaa", Usage: "'feaa' or 'fe2c'"},
				},
				Action: printFrames,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runTag(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := config.Load(cCtx.String("config"), flags.Overrides(cCtx, configKeys...))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "err", err)
		return err
	}

	tagCfg, err := cfg.TagConfig()
	if err != nil {
		return err
	}
	defaults, err := cfg.DefaultIdentity(identity.Defaults())
	if err != nil {
		return err
	}

	kv, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(cfg.Storage)
	if err != nil {
		logger.Error("Failed to create identity storage", "err", err)
		return err
	}
	var storeOpts []identity.Option
	if cfg.SealPassphrase != "" {
		sealer, err := cryptoutils.NewSealer(cfg.SealPassphrase)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, identity.WithSealer(sealer))
	}
	store := identity.NewStore(kv, defaults, logger, storeOpts...)

	var (
		radio interfaces.Radio
		gatt  interfaces.GATTServer
		bench httpserver.Bench
	)
	switch cfg.Radio {
	case "sim":
		simGATT := sim.NewGATT()
		radio, gatt, bench = sim.NewRadio(logger), simGATT, simGATT
		logger.Warn("Using the simulated radio, nothing is transmitted")
	default:
		radio = tinygoble.NewRadio(nil, logger)
		gatt = tinygoble.NewGATT(nil, logger)
	}

	t, err := tag.New(tagCfg, logger, tag.Collaborators{
		Radio:     radio,
		GATT:      gatt,
		Store:     store,
		Indicator: indicator.NewLog(logger),
		Restarter: newRestarter(cfg.SystemdUnit, logger),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := t.Boot(ctx); err != nil {
		logger.Error("Boot failed", "err", err)
		return err
	}

	server := httpserver.New(flags.ConfigureServer(cCtx, logger, cfg.ListenAddr, cfg.MetricsAddr), httpserver.NewHandler(t, bench, logger))
	server.RunInBackground()
	defer server.Shutdown()

	logger.Info("Tag is running", "mode", tagCfg.Mode.String(), "radio", cfg.Radio)
	err = t.Run(ctx)
	logger.Info("Shutdown signal received")
	return err
}

func newRestarter(unit string, logger *slog.Logger) interfaces.Restarter {
	exit := restart.NewExit(logger, nil)
	if unit == "" {
		return exit
	}
	systemd, err := restart.NewSystemd(unit, logger)
	if err != nil {
		logger.Warn("Systemd restarter unavailable", "err", err)
		return exit
	}
	return restart.NewFallback(logger, systemd, exit)
}

func printFrames(cCtx *cli.Context) error {
	id := identity.Defaults()
	if s := cCtx.String("apple-key"); s != "" {
		k, err := cryptoutils.ParseAppleKey(s)
		if err != nil {
			return fmt.Errorf("apple key: %w", err)
		}
		id.Apple = k
	}
	if s := cCtx.String("google-key"); s != "" {
		k, err := cryptoutils.ParseGoogleKey(s)
		if err != nil {
			return fmt.Errorf("google key: %w", err)
		}
		id.Google = k
	}
	format, err := interfaces.ParseGoogleFormat(cCtx.String("google-format"))
	if err != nil {
		return err
	}

	enc := beacon.NewEncoder(format)
	for _, p := range []interfaces.Protocol{interfaces.ProtocolAppleFindMy, interfaces.ProtocolGoogleFMDN} {
		f := enc.Frame(p, id)
		fmt.Fprintf(cCtx.App.Writer, "%-6s addr=%s len=%d payload=%x\n", p.String(), f.Address.String(), len(f.Payload), f.Payload)
	}
	return nil
}

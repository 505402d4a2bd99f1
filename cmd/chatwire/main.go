package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatwire/chatwire/bridge"
	"github.com/chatwire/chatwire/chat/discord"
	"github.com/chatwire/chatwire/config"
	"github.com/chatwire/chatwire/proc"
	"github.com/chatwire/chatwire/relay"
	"github.com/chatwire/chatwire/status"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:      "chatwire",
		Usage:     "bridge a Discord channel with a local server console",
		ArgsUsage: "COMMAND [ARGS...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Discord bot token.",
				EnvVars: []string{"DISCORD_TOKEN"},
			},
			&cli.StringFlag{
				Name:  "channel-id",
				Usage: "The Discord channel to bridge.",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file. Defaults to the nearest chatwire.yaml, if any.",
			},
			&cli.DurationFlag{
				Name:  "flush-interval",
				Usage: "Max time output lines wait before being flushed to the channel.",
			},
			&cli.IntFlag{
				Name:  "max-message-len",
				Usage: "Max length of a single chat message.",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "Time to wait for the process to exit on its own before killing it.",
			},
			&cli.BoolFlag{
				Name:  "pty",
				Usage: "Run the process under a pseudo-terminal.",
			},
			&cli.StringFlag{
				Name:  "status-addr",
				Usage: "Address for the local status HTTP endpoint. Empty disables it.",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Path to the play-time state file. Empty disables persistence.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	path := c.String("config")
	if path == "" {
		wd, err := os.Getwd()
		if err == nil {
			path = config.Locate(config.DefaultFileName, wd)
		}
	}
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}

	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if c.IsSet("channel-id") {
		cfg.ChannelID = c.String("channel-id")
	}
	if c.IsSet("flush-interval") {
		cfg.FlushInterval = c.Duration("flush-interval")
	}
	if c.IsSet("max-message-len") {
		cfg.MaxMessageLen = c.Int("max-message-len")
	}
	if c.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = c.Duration("shutdown-timeout")
	}
	if c.IsSet("pty") {
		cfg.UsePTY = c.Bool("pty")
	}
	if c.IsSet("status-addr") {
		cfg.StatusAddr = c.String("status-addr")
	}
	if c.IsSet("state-file") {
		cfg.StatePath = c.String("state-file")
	}

	if args := c.Args().Slice(); len(args) > 0 {
		cfg.Command = args[0]
		cfg.Args = args[1:]
	}

	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	level, err := zap.ParseAtomicLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := discord.New(cfg.Token, discord.WithLogger(logger))
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to Discord: %w", err)
	}
	defer client.Close(context.Background())

	var supOpts []proc.Option
	supOpts = append(supOpts, proc.WithLogger(logger))
	if cfg.UsePTY {
		supOpts = append(supOpts, proc.WithPTY())
	}
	sup := proc.New(cfg.Command, cfg.Args, supOpts...)

	// the operator's own terminal still works as a console (skipped under a
	// PTY, where stdin belongs to the process's terminal)
	if !cfg.UsePTY {
		console := relay.NewConsoleForwarder(sup, os.Stdin, relay.WithConsoleLogger(logger))
		go console.Run(ctx)
	}

	b := bridge.New(client, sup, bridge.Config{
		ChannelID:       cfg.ChannelID,
		FlushInterval:   cfg.FlushInterval,
		MaxMessageLen:   cfg.MaxMessageLen,
		QueueDepth:      cfg.QueueDepth,
		ShutdownTimeout: cfg.ShutdownTimeout,
		StatePath:       cfg.StatePath,
	}, bridge.WithLogger(logger))

	if cfg.StatusAddr != "" {
		statusServer := status.NewServer(log, cfg.StatusAddr, func() interface{} {
			return b.Snapshot()
		})
		go func() {
			if err := statusServer.Run(); err != nil && err != http.ErrServerClosed {
				log.Warnf("status server error: %s", err)
			}
		}()
		defer statusServer.Stop(context.Background())
	}

	log.Infow("bridging", "Channel", cfg.ChannelID, "Command", cfg.Command, "Args", cfg.Args)
	return b.Run(ctx)
}

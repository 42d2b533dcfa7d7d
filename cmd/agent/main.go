package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/guseggert/execagent/agent"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "execagent",
		Usage: "an HTTP agent that runs shell commands as asynchronous jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file. Flags override file values.",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "0.0.0.0:8080",
			},
			&cli.StringFlag{
				Name:  "base-dir",
				Usage: "Default working directory for commands.",
				Value: "/",
			},
			&cli.StringFlag{
				Name:  "workspace-dir",
				Usage: "Default directory for browsing and uploads.",
				Value: "/workspace",
			},
			&cli.StringFlag{
				Name:  "artifacts-dir",
				Usage: "Directory served by the files endpoints. Defaults to <workspace-dir>/artifacts.",
			},
			&cli.StringFlag{
				Name:  "job-ttl",
				Usage: "Duration to retain finished jobs before eviction.",
				Value: "1h",
			},
			&cli.StringFlag{
				Name:  "default-timeout",
				Usage: "Timeout applied to commands that don't specify one.",
				Value: "20m",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := agent.DefaultConfig()
			if path := ctx.String("config"); path != "" {
				loaded, err := agent.LoadConfig(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if ctx.IsSet("listen-addr") || cfg.ListenAddr == "" {
				cfg.ListenAddr = ctx.String("listen-addr")
			}
			if ctx.IsSet("base-dir") {
				cfg.BaseDir = ctx.String("base-dir")
			}
			if ctx.IsSet("workspace-dir") {
				cfg.WorkspaceDir = ctx.String("workspace-dir")
			}
			if ctx.IsSet("artifacts-dir") {
				cfg.ArtifactsDir = ctx.String("artifacts-dir")
			}
			if ctx.IsSet("job-ttl") {
				ttl, err := time.ParseDuration(ctx.String("job-ttl"))
				if err != nil {
					return fmt.Errorf("parsing job TTL: %w", err)
				}
				cfg.JobTTLSeconds = int(ttl.Seconds())
			}
			if ctx.IsSet("default-timeout") {
				timeout, err := time.ParseDuration(ctx.String("default-timeout"))
				if err != nil {
					return fmt.Errorf("parsing default timeout: %w", err)
				}
				cfg.DefaultTimeoutSeconds = int(timeout.Seconds())
			}

			logger, err := zap.NewProduction()
			if ctx.Bool("debug") {
				logger, err = zap.NewDevelopment()
			}
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			a, err := agent.New(cfg, agent.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("building agent: %w", err)
			}
			return a.Run()
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/grimoire"
	"github.com/poiesic/grimoire/config"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("grimoire failed", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "grimoire",
		Usage: "Index tabletop rulebooks and game conversations for semantic retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file; built-in defaults when empty",
				EnvVars: []string{"GRIMOIRE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override logging level (debug, info, warn, error)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "detect",
				Usage:  "Scan source roots and publish crack requests for new or modified documents",
				Action: detectCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "once",
						Usage: "Scan once and exit",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Rescan on filesystem events instead of polling",
					},
				},
			},
			{
				Name:   "worker",
				Usage:  "Serve pipeline stages from the broker",
				Action: workerCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "stage",
						Aliases: []string{"s"},
						Usage:   "Stage to serve, repeatable (crack, chunk, embed, conversation-user, conversation-assistant); all when omitted",
					},
				},
			},
			{
				Name:   "run",
				Usage:  "Run the change detector and every stage in one process",
				Action: runCommand,
			},
			{
				Name:      "say",
				Usage:     "Publish a conversation turn for embedding",
				ArgsUsage: "<content>",
				Action:    sayCommand,
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "id",
						Usage:    "Message id",
						Required: true,
					},
					&cli.Int64Flag{
						Name:     "game",
						Usage:    "Game id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "role",
						Usage: "Author role (user, assistant)",
						Value: "user",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Find indexed chunks and conversation turns similar to a query",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "ruleset",
						Usage: "Restrict to rulebook chunks of one ruleset",
					},
					&cli.Int64Flag{
						Name:  "game",
						Usage: "Restrict to conversation turns of one game",
					},
					&cli.StringFlag{
						Name:  "role",
						Usage: "With --game, restrict to one author role",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of hits",
						Value: 5,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Minimum cosine similarity for semantic hits",
						Value: 0.6,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed every indexed record with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per embedding call",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: defaultRetryDelay,
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "Only re-embed records of one document type (rulebook, conversation)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show indexed document and record counts with processor checkpoints",
				Action: statusCommand,
			},
		},
	}
}

// setup loads the configuration and installs the logger.
func setup(c *cli.Context) error {
	cfg := config.NewDefaultConfig()
	if err := config.LoadWithDefaults(c.String("config"), cfg); err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		level, err := parseLevel(lvl)
		if err != nil {
			return err
		}
		cfg.App.LogLevel = level
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg

	opts := &slog.HandlerOptions{Level: cfg.App.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.App.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

// open opens the runtime described by the loaded configuration.
func open(c *cli.Context, opts ...grimoire.Option) (*grimoire.Runtime, error) {
	opts = append([]grimoire.Option{grimoire.WithLogger(slog.Default())}, opts...)
	return grimoire.Open(configFrom(c), opts...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

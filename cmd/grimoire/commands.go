package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/grimoire"
	"github.com/poiesic/grimoire/config"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/reembed"
	"github.com/poiesic/grimoire/search"
	"github.com/poiesic/grimoire/storage"
)

const defaultRetryDelay = time.Second

// warnDetached logs when a command publishes to a broker no other process
// can consume from.
func warnDetached(c *cli.Context, command string) {
	if configFrom(c).Broker.Driver == config.BrokerMemory {
		slog.Warn("memory broker is process-local; messages published by this command are not consumed elsewhere",
			"command", command, "hint", "use the amqp broker or `grimoire run`")
	}
}

func detectCommand(c *cli.Context) error {
	warnDetached(c, "detect")
	rt, err := open(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	detector, err := rt.Detector()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	switch {
	case c.Bool("once"):
		report, err := detector.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Println(report)
		return nil
	case c.Bool("watch"):
		return detector.Watch(ctx, configFrom(c).Sources.WatchDebounce)
	default:
		return detector.Run(ctx)
	}
}

func workerCommand(c *cli.Context) error {
	rt, err := open(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	pipeline, err := rt.Pipeline(c.StringSlice("stage")...)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()
	return pipeline.Run(ctx)
}

func runCommand(c *cli.Context) error {
	rt, err := open(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signalContext(c)
	defer stop()
	return rt.Run(ctx)
}

func sayCommand(c *cli.Context) error {
	content := strings.Join(c.Args().Slice(), " ")
	if content == "" {
		return errors.New("message content is required")
	}
	role, err := core.ParseRole(c.String("role"))
	if err != nil {
		return err
	}
	warnDetached(c, "say")

	rt, err := open(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.Say(c.Context, core.ConversationMessageReadyForEmbedding{
		MessageID: c.Int64("id"),
		GameID:    c.Int64("game"),
		Role:      role,
		Content:   content,
		SentAt:    time.Now().UTC(),
	})
}

// searchFilter builds the tag filter from the search flags.
func searchFilter(c *cli.Context) (storage.Filter, error) {
	if c.IsSet("game") {
		var role core.Role
		if c.String("role") != "" {
			r, err := core.ParseRole(c.String("role"))
			if err != nil {
				return nil, err
			}
			role = r
		}
		return search.ConversationFilter(c.Int64("game"), role), nil
	}
	if c.IsSet("ruleset") {
		return search.RulebookFilter(c.String("ruleset")), nil
	}
	return nil, nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return errors.New("query is required")
	}
	filter, err := searchFilter(c)
	if err != nil {
		return err
	}

	rt, err := open(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	searcher, err := rt.Searcher(search.WithMinScore(float32(c.Float64("min-score"))))
	if err != nil {
		return err
	}
	results, err := searcher.FindSimilar(c.Context, query, filter, c.Int("limit"))
	if err != nil {
		return err
	}

	fmt.Printf("Found %d hits\n", len(results))
	for i, hit := range results {
		source := hit.Record.Tags["file_name"]
		if source == "" {
			source = "game " + hit.Record.Tags["game_id"] + " " + hit.Record.Tags["role"]
		}
		fmt.Printf("%d: [%0.3f] %s (%s)\n", i, hit.Score, hit.Record.Text, source)
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}
	if t := c.String("type"); t != "" {
		cfg.Filter = storage.Filter{"document_type": t}
	}

	rt, err := open(c, grimoire.WithMigration())
	if err != nil {
		return err
	}
	defer rt.Close()

	r, err := rt.Reembedder(cfg, os.Stderr)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	emb := configFrom(c).Embedding
	fmt.Fprintf(os.Stderr, "Embedding backend: %s %s\n", emb.Backend, emb.Host)
	fmt.Fprintf(os.Stderr, "Embedding model: %s (%d dimensions)\n\n", emb.Model, emb.Dimensions)

	report, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, report)
	return nil
}

func statusCommand(c *cli.Context) error {
	rt, err := open(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	status, err := rt.Status(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Collection %s: model %s, %d dimensions\n", status.Schema.Collection, status.Schema.Model, status.Schema.Dimension)
	fmt.Printf("Documents: %d\n", status.Documents)
	fmt.Printf("Records:   %d\n", status.Records)
	for _, cp := range status.Checkpoints {
		fmt.Printf("%-10s last run %s: %s\n", cp.ProcessorType, cp.LastRunAt.Local().Format(time.DateTime), cp.Detail)
	}
	return nil
}

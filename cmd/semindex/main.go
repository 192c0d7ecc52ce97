package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/latticecode/semindex/internal/config"
	"github.com/latticecode/semindex/internal/embedding"
	"github.com/latticecode/semindex/internal/llm"
	"github.com/latticecode/semindex/internal/semindex"
	"github.com/latticecode/semindex/internal/store"
	"github.com/latticecode/semindex/pkg/mcp"
)

func main() {
	app := &cli.App{
		Name:  "semindex",
		Usage: "Semantic code-search index: parse, embed, store, and search source trees",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "Index a directory of source files",
				ArgsUsage: "<directory>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "exclude",
						Usage: "Additional glob patterns to exclude (e.g. --exclude '**/*.min.js')",
					},
				},
				Action: indexCommand,
			},
			{
				Name:      "search",
				Usage:     "Search an already-indexed directory",
				ArgsUsage: "<directory> <query>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top",
						Aliases: []string{"n"},
						Usage:   "Number of results to return",
						Value:   10,
					},
				},
				Action: searchCommand,
			},
			{
				Name:  "serve",
				Usage: "Run the MCP server exposing index_directory, search_directory, get_status",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "transport",
						Usage: "Transport: stdio or http",
						Value: "stdio",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "HTTP server port",
						Value: 0,
					},
				},
				Action: serveCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if warnings := config.Validate(cfg); len(warnings) > 0 {
		for _, w := range warnings {
			log.Printf("config warning: %s", w)
		}
	}
	return cfg, nil
}

func buildIndex(ctx context.Context, cfg *config.Config, extraExcludes []string) (*semindex.Index, error) {
	embedProvider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	var expander llm.Provider
	if cfg.LLM.Enabled && cfg.LLM.ExpandQueries {
		expander, err = llm.NewProvider(cfg.LLM)
		if err != nil {
			log.Printf("query expansion disabled: llm provider unavailable: %v", err)
			expander = nil
		}
	}

	excludeGlobs := append([]string(nil), cfg.Indexing.ExcludeGlobs...)
	excludeGlobs = append(excludeGlobs, extraExcludes...)

	return semindex.New(ctx, semindex.Config{
		Store: store.Config{
			URL:       cfg.Database.SurrealDB.URL,
			Namespace: cfg.Database.SurrealDB.Namespace,
			Database:  cfg.Database.SurrealDB.Database,
			Username:  cfg.Database.SurrealDB.Username,
			Password:  cfg.Database.SurrealDB.Password,
		},
		EmbedProvider:    embedProvider,
		QueryExpander:    expander,
		ExcludeGlobs:     excludeGlobs,
		BatchSpans:       cfg.Indexing.BatchSpans,
		FlushIntervalMs:  cfg.Indexing.FlushIntervalMs,
		ParseChannelSize: cfg.Indexing.ParseChannelSize,
	})
}

func indexCommand(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("usage: semindex index [options] <directory>")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyInterrupt(cancel)

	idx, err := buildIndex(ctx, cfg, c.StringSlice("exclude"))
	if err != nil {
		return err
	}
	defer idx.Close()

	fmt.Printf("Indexing %s...\n", dir)
	job, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		return fmt.Errorf("index directory: %w", err)
	}

	if err := job.Notified(ctx); err != nil {
		return fmt.Errorf("wait for completion: %w", err)
	}

	fmt.Println("Indexing complete.")
	return nil
}

func searchCommand(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: semindex search [options] <directory> <query>")
	}
	dir := c.Args().Get(0)
	query := c.Args().Get(1)

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyInterrupt(cancel)

	idx, err := buildIndex(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer idx.Close()

	results, err := idx.SearchDirectory(ctx, dir, c.Int("top"), query)
	if err != nil {
		return fmt.Errorf("search directory: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyInterrupt(cancel)

	idx, err := buildIndex(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer idx.Close()

	if configPath := c.String("config"); configPath != "" {
		go func() {
			if err := config.Watch(ctx, configPath, func(reloaded *config.Config) {
				log.Printf("serve: %s changed; restart to apply (store/embedding/LLM are fixed at startup)", configPath)
				_ = reloaded
			}); err != nil && ctx.Err() == nil {
				log.Printf("serve: config watch stopped: %v", err)
			}
		}()
	}

	server := mcp.NewServer(mcp.ServerConfig{Index: idx})

	transport := c.String("transport")
	port := c.Int("port")
	if port == 0 {
		port = cfg.Server.Port
	}

	switch transport {
	case "stdio":
		log.Println("Starting MCP server on stdio...")
		return server.ServeStdio(ctx)
	case "http":
		log.Printf("Starting MCP server (http) on port %d...\n", port)
		return server.ServeHTTP(ctx, port)
	default:
		return fmt.Errorf("unknown transport: %s", transport)
	}
}

func notifyInterrupt(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
	}()
}

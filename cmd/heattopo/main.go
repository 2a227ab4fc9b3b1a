// heattopo - OpenStack Heat template topology graphs
//
// Usage:
//
//	heattopo graph --template stack.yaml [--env env.yaml]... [options]
//	heattopo serve --port 8080
//	heattopo snapshots list --limit 20
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/gacybercenter/openstack-top-graph/api"
	"github.com/gacybercenter/openstack-top-graph/db/clickhouse"
	"github.com/gacybercenter/openstack-top-graph/db/ingestion"
	"github.com/gacybercenter/openstack-top-graph/decision/intrinsic"
	"github.com/gacybercenter/openstack-top-graph/decision/pipeline"
	"github.com/gacybercenter/openstack-top-graph/pkg/platform"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		platform.LogFatal(slog.Default(), "heattopo failed", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "heattopo",
		Usage:   "Resource topology graphs for OpenStack Heat templates",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"HEATTOPO_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format (text, json)",
				EnvVars: []string{"HEATTOPO_LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Value:   "localhost",
				Usage:   "ClickHouse host",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Value:   9000,
				Usage:   "ClickHouse native port",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Value:   "heattopo",
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Value:   "default",
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Value:   "",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
			&cli.DurationFlag{
				Name:    "fetch-timeout",
				Value:   30 * time.Second,
				Usage:   "Timeout for each get_file HTTP request",
				EnvVars: []string{"HEATTOPO_FETCH_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "fetch-retries",
				Value:   2,
				Usage:   "Retries for failed get_file HTTP requests",
				EnvVars: []string{"HEATTOPO_FETCH_RETRIES"},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "Region for s3:// get_file uris",
				EnvVars: []string{"AWS_REGION"},
			},
		},

		Before: func(c *cli.Context) error {
			platform.InitLogger(c.String("log-level"), c.String("log-format"))
			return nil
		},

		Commands: []*cli.Command{
			graphCommand(),
			serveCommand(),
			snapshotsCommand(),
		},
	}
}

// =============================================================================
// SHARED WIRING
// =============================================================================

func newStore(c *cli.Context) (*clickhouse.Store, error) {
	return clickhouse.NewStore(&clickhouse.Config{
		Host:     c.String("clickhouse-host"),
		Port:     c.Int("clickhouse-port"),
		Database: c.String("clickhouse-database"),
		Username: c.String("clickhouse-user"),
		Password: c.String("clickhouse-password"),
	})
}

func newFetcher(c *cli.Context, baseDir string) *intrinsic.SchemeFetcher {
	client := platform.NewHTTPClient(c.Int("fetch-retries"), c.Duration("fetch-timeout"))
	return intrinsic.NewSchemeFetcher(client, baseDir, c.String("aws-region"))
}

// =============================================================================
// GRAPH COMMAND
// =============================================================================

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "Build the topology graph of a Heat template",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "template",
				Aliases:  []string{"t"},
				Usage:    "Path to the Heat template",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Environment file, may be repeated",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Graph title (defaults to the template file name)",
			},
			&cli.BoolFlag{
				Name:  "merge",
				Usage: "Merge each server with the ports it references",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "json",
				Usage:   "Output format (json, table, markdown)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Include each node's resolved properties in table output",
			},
			&cli.StringFlag{
				Name:    "stack-name",
				Usage:   "Value of get_param: OS::stack_name",
				EnvVars: []string{"HEATTOPO_STACK_NAME"},
			},
			&cli.BoolFlag{
				Name:  "resolve-ids",
				Usage: "Turn UUIDs matching a parameter default into resource references",
			},
			&cli.StringFlag{
				Name:  "base-dir",
				Usage: "Directory local get_file paths are confined to (defaults to the template's directory)",
			},
			&cli.BoolFlag{
				Name:  "record",
				Usage: "Record the graph as a ClickHouse snapshot",
			},
		},
		Action: runGraph,
	}
}

func runGraph(c *cli.Context) error {
	ctx := c.Context
	path := c.String("template")

	tmpl, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	var envs [][]byte
	var envTexts []string
	for _, envPath := range c.StringSlice("env") {
		env, err := os.ReadFile(envPath)
		if err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		envs = append(envs, env)
		envTexts = append(envTexts, string(env))
	}

	baseDir := c.String("base-dir")
	if baseDir == "" {
		baseDir = filepath.Dir(path)
	}
	title := c.String("name")
	if title == "" {
		title = filepath.Base(path)
	}

	result, err := pipeline.New(newFetcher(c, baseDir), slog.Default()).Run(ctx, &pipeline.Request{
		Template:     tmpl,
		Environments: envs,
		Title:        title,
		Merge:        c.Bool("merge"),
		StackName:    c.String("stack-name"),
		ResolveIDs:   c.Bool("resolve-ids"),
	})
	if err != nil {
		return err
	}

	slog.Info("graph built",
		"title", result.Graph.Title,
		"nodes", len(result.Graph.Nodes),
		"links", len(result.Graph.Links),
		"warnings", len(result.Diagnostics),
	)

	var snapshotID string
	if c.Bool("record") {
		store, err := newStore(c)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		rec, err := ingestion.NewClickHouseAdapter(store, slog.Default()).RecordGraph(ctx, &ingestion.RecordInput{
			Template:     string(tmpl),
			Environments: envTexts,
			Merged:       c.Bool("merge"),
			StackName:    c.String("stack-name"),
			Graph:        result.Graph.Export(),
		})
		if err != nil {
			return fmt.Errorf("failed to record snapshot: %w", err)
		}
		snapshotID = rec.SnapshotID.String()
	}

	out := c.App.Writer
	switch c.String("format") {
	case "table":
		return outputTable(out, result, c.Bool("verbose"))
	case "markdown":
		return outputMarkdown(out, result)
	default:
		return outputJSON(out, result, snapshotID)
	}
}

// =============================================================================
// SERVE COMMAND (API SERVER)
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the heattopo API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "API server port",
				EnvVars: []string{"HEATTOPO_PORT"},
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Value:   "*",
				Usage:   "Comma-separated list of allowed CORS origins",
				EnvVars: []string{"HEATTOPO_CORS_ORIGINS"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Require this X-API-Key on /api routes",
				EnvVars: []string{"HEATTOPO_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "base-dir",
				Value:   ".",
				Usage:   "Directory local get_file paths are confined to",
				EnvVars: []string{"HEATTOPO_BASE_DIR"},
			},
			&cli.StringSliceFlag{
				Name:    "get-file-schemes",
				Usage:   "get_file uri schemes the server may fetch (file, http, https, s3); none by default",
				EnvVars: []string{"HEATTOPO_GET_FILE_SCHEMES"},
			},
			&cli.BoolFlag{
				Name:    "snapshots",
				Usage:   "Connect to ClickHouse for snapshot recording and history",
				EnvVars: []string{"HEATTOPO_SNAPSHOTS"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := api.DefaultConfig()
	cfg.Port = c.Int("port")
	cfg.APIKey = c.String("api-key")
	cfg.ReadTimeout = platform.GetEnvDuration("HEATTOPO_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = platform.GetEnvDuration("HEATTOPO_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = platform.GetEnvDuration("HEATTOPO_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.MaxRequestSize = int64(platform.GetEnvInt("HEATTOPO_MAX_REQUEST_SIZE", int(cfg.MaxRequestSize)))

	cfg.CORSOrigins = strings.Split(c.String("cors-origins"), ",")
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	var (
		store    api.SnapshotStore
		recorder api.Recorder
	)
	if c.Bool("snapshots") {
		chStore, err := newStore(c)
		if err != nil {
			return err
		}
		defer chStore.Close()
		if err := chStore.Migrate(ctx); err != nil {
			return err
		}
		store = chStore
		recorder = ingestion.NewClickHouseAdapter(chStore, slog.Default())
	}

	schemes := c.StringSlice("get-file-schemes")
	fetcher := newFetcher(c, c.String("base-dir")).Allow(schemes...)
	slog.Info("get_file schemes", "allowed", schemes, "base_dir", c.String("base-dir"))

	server := api.NewServer(pipeline.New(fetcher, slog.Default()), store, recorder, cfg, slog.Default())
	return server.StartWithGracefulShutdown(ctx)
}

// =============================================================================
// SNAPSHOTS COMMAND
// =============================================================================

func snapshotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshots",
		Usage: "Inspect recorded topology snapshots",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent snapshots",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of snapshots",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "table",
						Usage:   "Output format (table, json)",
					},
				},
				Action: func(c *cli.Context) error {
					store, err := newStore(c)
					if err != nil {
						return err
					}
					defer store.Close()

					snapshots, err := store.ListSnapshots(c.Context, c.Int("limit"))
					if err != nil {
						return err
					}
					return outputSnapshots(c.App.Writer, snapshots, c.String("format"))
				},
			},
			{
				Name:  "migrate",
				Usage: "Create the snapshot tables",
				Action: func(c *cli.Context) error {
					store, err := newStore(c)
					if err != nil {
						return err
					}
					defer store.Close()
					if err := store.Migrate(c.Context); err != nil {
						return err
					}
					slog.Info("snapshot tables ready", "database", c.String("clickhouse-database"))
					return nil
				},
			},
		},
	}
}

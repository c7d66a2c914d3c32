package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/notesearch/internal"
	pkgconfig "github.com/starford/notesearch/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	if v := cmd.String("vault"); v != "" {
		cfg.Vault.Path = v
	}
	return cfg, nil
}

func options(cmd *cli.Command, extra ...internal.Option) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return append([]internal.Option{internal.WithConfig(cfg), internal.WithVersion(version)}, extra...), nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func build(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	return internal.Build(ctx, os.Stdout, opts...)
}

func searchCmd(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	limit := int(cmd.Int("limit"))
	if cmd.Bool("interactive") {
		return internal.SearchInteractive(ctx, os.Stdin, os.Stdout, limit, opts...)
	}
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("search: query argument is required")
	}
	return internal.Search(ctx, os.Stdout, cmd.Args().First(), limit, opts...)
}

func status(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	return internal.Status(ctx, os.Stdout, opts...)
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "notesearch",
		Usage:   "Hybrid exact, full-text and semantic search over a Markdown vault",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Override the vault directory",
				Sources: cli.EnvVars("APP_VAULT_PATH"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and vault watcher",
				Action: serve,
			},
			{
				Name:   "build",
				Usage:  "Rebuild the full-text and semantic indexes",
				Action: build,
			},
			{
				Name:      "search",
				Usage:     "Run a merged query and print the results as JSON",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Max results (0 uses the configured default)"},
					&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "Read queries from stdin as they are typed"},
				},
				Action: searchCmd,
			},
			{
				Name:   "status",
				Usage:  "Print index staleness and build state",
				Action: status,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

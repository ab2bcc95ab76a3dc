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
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/lattice"
	"github.com/poiesic/lattice/api"
	"github.com/poiesic/lattice/config"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/search"
	"github.com/urfave/cli/v2"
)

// engineOptions are applied to every engine the CLI opens.
var engineOptions []lattice.Option

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	projectFlag := &cli.StringFlag{
		Name:     "project",
		Aliases:  []string{"p"},
		Usage:    "Project ID",
		Required: true,
	}
	return &cli.App{
		Name:  "lattice",
		Usage: "Document ingestion and hybrid retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before LATTICE_ variables are read",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Data directory (overrides config and environment)",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "address",
						Usage: "Listen address (overrides config)",
					},
				},
			},
			{
				Name:  "projects",
				Usage: "Manage projects",
				Subcommands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "Create a project",
						ArgsUsage: "NAME",
						Action:    createProjectCommand,
					},
					{
						Name:   "list",
						Usage:  "List projects",
						Action: listProjectsCommand,
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest a file and wait for it to finish",
				ArgsUsage: "FILE",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					projectFlag,
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up waiting after this long",
						Value: 10 * time.Minute,
					},
				},
			},
			{
				Name:   "documents",
				Usage:  "List the documents of a project",
				Action: documentsCommand,
				Flags:  []cli.Flag{projectFlag},
			},
			{
				Name:      "search",
				Usage:     "Run a hybrid search",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					projectFlag,
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of results (0 uses the configured default)",
					},
					&cli.StringSliceFlag{
						Name:  "source",
						Usage: "Restrict to these document IDs",
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document from every store",
				ArgsUsage: "DOC_ID",
				Action:    deleteCommand,
				Flags:     []cli.Flag{projectFlag},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed every chunk of a project with the configured embedder",
				Action: reindexCommand,
				Flags:  []cli.Flag{projectFlag},
			},
		},
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// loadConfig layers the config file, LATTICE_ environment variables and
// command line flags over the defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	return cfg, nil
}

func openEngine(c *cli.Context) (*lattice.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	opts := append([]lattice.Option{lattice.WithLogger(slog.Default())}, engineOptions...)
	engine, err := lattice.New(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func serveCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	cfg := engine.Config().Server
	if address := c.String("address"); address != "" {
		cfg.Address = address
	}
	srv, err := api.New(engine, cfg, engine.Limiter(), slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Address)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	return srv.Shutdown()
}

func createProjectCommand(c *cli.Context) error {
	name := strings.Join(c.Args().Slice(), " ")
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	project, err := engine.CreateProject(c.Context, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\t%s\n", project.ID, project.Name)
	return nil
}

func listProjectsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	projects, err := engine.Projects(c.Context)
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func ingestCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	task, err := engine.Ingest(c.Context, c.String("project"), filepath.Base(path), data)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Task %s: document %s\n", task.ID, task.DocID)

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := engine.Status(task.ID)
		if err != nil {
			return err
		}
		if status.Terminal() {
			if status.Error != "" {
				return fmt.Errorf("ingestion %s: %s", status.Stage, status.Error)
			}
			fmt.Fprintf(c.App.Writer, "Document %s is %s\n", task.DocID, status.Status)
			return nil
		}
		select {
		case <-ctx.Done():
			if err := engine.Cancel(task.ID); err != nil {
				slog.Warn("failed to cancel task", "task", task.ID, "err", err)
			}
			return fmt.Errorf("gave up waiting for task %s: %w", task.ID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func documentsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	docs, err := engine.ListDocuments(c.Context, c.String("project"))
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%d chunks\n", d.ID, d.Filename, d.Status, d.ChunkCount)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("query is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := engine.Search(c.Context, search.Query{
		Text:      query,
		ProjectID: c.String("project"),
		SourceIDs: c.StringSlice("source"),
		TopK:      c.Int("top-k"),
	})
	if err != nil {
		return err
	}
	if len(results.Degraded) > 0 {
		fmt.Fprintf(c.App.ErrWriter, "Degraded: %s unavailable\n", strings.Join(results.Degraded, ", "))
	}
	for i, hit := range results.Hits {
		fmt.Fprintf(c.App.Writer, "%d. %s (%.4f)\n", i+1, hit.Chunk.ID, hit.Score)
		fmt.Fprintf(c.App.Writer, "   %s\n", preview(hit.Chunk.Text, 160))
	}
	return nil
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func deleteCommand(c *cli.Context) error {
	docID := c.Args().First()
	if docID == "" {
		return fmt.Errorf("document ID is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Delete(c.Context, c.String("project"), docID)
	if err != nil && !errors.Is(err, core.ErrOrphanedFile) {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %s: %d vectors, %d graph records\n", result.DocID, result.VectorsRemoved, result.GraphRemoved)
	if err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: %v\n", err)
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	report, err := engine.Reindex(c.Context, c.String("project"), c.App.ErrWriter)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Reindexed %d chunks in %d batches (%s)\n", report.Chunks, report.Batches, report.Elapsed.Round(time.Millisecond))
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

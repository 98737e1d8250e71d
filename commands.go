package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"docrag/internal/app"
	"docrag/internal/config"
	"docrag/internal/job"
	"docrag/internal/logger"
	"docrag/internal/queue"
)

// loadConfig is swapped out in tests.
var loadConfig = config.Load

type runtimeFunc func(ctx context.Context, cfg *config.Config, rt *app.Runtime) error

func withRuntime(c *cli.Context, fn runtimeFunc) error {
	cfg, err := loadConfig()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 2)
	}

	ctx := logger.WithCorrelationID(c.Context, uuid.NewString())
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("bootstrap failed: %v", err), 1)
	}
	rt, err := app.NewRuntime(cfg, deps)
	if err != nil {
		if cerr := deps.Close(); cerr != nil {
			slog.Warn("failed to close dependencies", "error", cerr)
		}
		return cli.Exit(fmt.Sprintf("bootstrap failed: %v", err), 1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("failed to close runtime", "error", err)
		}
	}()

	return fn(ctx, cfg, rt)
}

// serve runs a long-lived loop until SIGINT or SIGTERM, with the health
// endpoint alongside when HEALTH_PORT is set.
func serve(ctx context.Context, cfg *config.Config, rt *app.Runtime, run func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HealthPort > 0 {
		go func() {
			if err := app.RunHealthServer(ctx, cfg.HealthPort, rt.Handler()); err != nil {
				slog.Error("health server failed", "error", err)
			}
		}()
	}

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func workerCommand(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, cfg *config.Config, rt *app.Runtime) error {
		raw := c.String("task")
		if raw == "" {
			raw = cfg.TaskData
		}
		if raw != "" {
			if code := rt.Runner.Run(ctx, raw); code != 0 {
				return cli.Exit("", code)
			}
			return nil
		}
		return serve(ctx, cfg, rt, rt.Poller.Run)
	})
}

func watchCommand(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, cfg *config.Config, rt *app.Runtime) error {
		return serve(ctx, cfg, rt, rt.Watcher.Run)
	})
}

func reconcileCommand(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		n, err := rt.Watcher.Reconcile(ctx)
		if err != nil {
			return cli.Exit(fmt.Sprintf("reconcile failed: %v", err), 1)
		}
		fmt.Fprintf(c.App.Writer, "Queued %d document(s) for ingestion.\n", n)
		return nil
	})
}

func uploadCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("upload needs at least one FILE", 2)
	}
	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		failed := 0
		for _, path := range c.Args().Slice() {
			id, err := rt.Upload(ctx, path, c.String("set"), c.String("strategy"), c.String("webhook"))
			if err != nil {
				failed++
				slog.ErrorContext(ctx, "upload failed", "path", path, "error", err)
				fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", id, path)
		}
		if failed > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d uploads failed", failed, c.NArg()), 1)
		}
		return nil
	})
}

func summarizeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("summarize needs exactly one FILENAME", 2)
	}
	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		id, err := rt.RequestSummary(ctx, c.Args().First(), c.String("set"), c.String("webhook"))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Fprintln(c.App.Writer, id)
		return nil
	})
}

func statusCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("status needs exactly one TASK_ID", 2)
	}
	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		report, err := rt.Queue.Status(ctx, c.Args().First())
		if errors.Is(err, queue.ErrTaskNotFound) {
			return cli.Exit(err.Error(), 3)
		}
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return printJSON(c.App.Writer, report)
	})
}

func askCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("ask needs a QUESTION", 2)
	}
	question := c.Args().First()
	for _, a := range c.Args().Tail() {
		question += " " + a
	}

	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		if c.Bool("search-only") {
			results, err := rt.Retrieval.Search(ctx, question, c.Int("limit"), c.String("set"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return printJSON(c.App.Writer, results)
		}

		answer, err := rt.Retrieval.Answer(ctx, question, c.Int("limit"), c.String("set"))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Fprintln(c.App.Writer, answer.Answer)
		if len(answer.Results) > 0 {
			fmt.Fprintln(c.App.Writer, "\nSources:")
			seen := make(map[string]bool)
			for _, r := range answer.Results {
				key := r.DocumentSet + "/" + r.Filename
				if seen[key] {
					continue
				}
				seen[key] = true
				fmt.Fprintf(c.App.Writer, "- %s (%s)\n", r.Filename, r.DocumentSet)
			}
		}
		return nil
	})
}

func docsListCommand(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		docs, err := rt.Documents.List(ctx)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return printJSON(c.App.Writer, docs)
	})
}

func docsSetsCommand(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		sets, err := rt.Documents.Sets(ctx)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return printJSON(c.App.Writer, sets)
	})
}

func docsDeleteCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("delete needs exactly one FILENAME", 2)
	}
	return withRuntime(c, func(ctx context.Context, cfg *config.Config, rt *app.Runtime) error {
		set := c.String("set")
		if set == "" {
			set = cfg.DefaultDocumentSet
		}
		if err := rt.Documents.Delete(ctx, c.Args().First(), set); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Fprintf(c.App.Writer, "Deleted %s from %s.\n", c.Args().First(), set)
		return nil
	})
}

func withJobs(c *cli.Context, fn func(ctx context.Context, jobs *job.Service) error) error {
	return withRuntime(c, func(ctx context.Context, _ *config.Config, rt *app.Runtime) error {
		if rt.Jobs == nil {
			return cli.Exit(app.ErrNoDatabase.Error(), 2)
		}
		return fn(ctx, rt.Jobs)
	})
}

func jobsListCommand(c *cli.Context) error {
	return withJobs(c, func(ctx context.Context, jobs *job.Service) error {
		list, err := jobs.List(ctx)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return printJSON(c.App.Writer, list)
	})
}

func jobsCountCommand(c *cli.Context) error {
	return withJobs(c, func(ctx context.Context, jobs *job.Service) error {
		n, err := jobs.Count(ctx)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Fprintln(c.App.Writer, n)
		return nil
	})
}

func jobsRetryCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("retry needs exactly one JOB_ID", 2)
	}
	return withJobs(c, func(ctx context.Context, jobs *job.Service) error {
		id, err := jobs.Retry(ctx, c.Args().First())
		if errors.Is(err, job.ErrNotFound) {
			return cli.Exit(err.Error(), 3)
		}
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Fprintln(c.App.Writer, id)
		return nil
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

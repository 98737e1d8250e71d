package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"docrag/internal/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docrag",
		Usage: "Document ingestion workers and retrieval over indexed document sets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "worker",
				Usage:  "Process one task from TASK_DATA or --task, otherwise poll the queue",
				Action: workerCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "task",
						Usage: "Task envelope JSON to run once",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Watch MONITORED_DIR and queue new documents for ingestion",
				Action: watchCommand,
			},
			{
				Name:   "reconcile",
				Usage:  "Queue every monitored document that is not indexed yet, then exit",
				Action: reconcileCommand,
			},
			{
				Name:      "upload",
				Usage:     "Store documents and queue them for ingestion",
				ArgsUsage: "FILE...",
				Action:    uploadCommand,
				Flags: []cli.Flag{
					setFlag(),
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Conversion pipeline (standard, vlm)",
						Value: "standard",
					},
					webhookFlag(),
				},
			},
			{
				Name:      "summarize",
				Usage:     "Queue a summary of an uploaded document",
				ArgsUsage: "FILENAME",
				Action:    summarizeCommand,
				Flags:     []cli.Flag{setFlag(), webhookFlag()},
			},
			{
				Name:      "status",
				Usage:     "Show the status of a task",
				ArgsUsage: "TASK_ID",
				Action:    statusCommand,
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the indexed documents",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "set",
						Usage: "Document set to search, \"all\" for every set",
						Value: "all",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of documents to draw context from",
						Value: 10,
					},
					&cli.BoolFlag{
						Name:  "search-only",
						Usage: "Print matching chunks without generating an answer",
					},
				},
			},
			{
				Name:  "docs",
				Usage: "Inspect and delete indexed documents",
				Subcommands: []*cli.Command{
					{Name: "list", Usage: "List indexed documents", Action: docsListCommand},
					{Name: "sets", Usage: "List document sets", Action: docsSetsCommand},
					{
						Name:      "delete",
						Usage:     "Delete a document's chunks and stored file",
						ArgsUsage: "FILENAME",
						Action:    docsDeleteCommand,
						Flags:     []cli.Flag{setFlag()},
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "Inspect and retry failed tasks",
				Subcommands: []*cli.Command{
					{Name: "list", Usage: "List failed jobs", Action: jobsListCommand},
					{Name: "count", Usage: "Count failed jobs", Action: jobsCountCommand},
					{
						Name:      "retry",
						Usage:     "Resubmit a failed job as a new task",
						ArgsUsage: "JOB_ID",
						Action:    jobsRetryCommand,
					},
				},
			},
		},
	}
}

func setFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "set",
		Usage: "Document set (defaults to DEFAULT_DOCUMENT_SET)",
	}
}

func webhookFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "webhook",
		Usage: "URL notified when the task finishes",
	}
}

func setupLogger(c *cli.Context) error {
	level := strings.ToLower(c.String("log-level"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", level)
	}
	// Command output goes to stdout, logs to stderr.
	slog.SetDefault(logger.New(os.Stderr, level))
	return nil
}

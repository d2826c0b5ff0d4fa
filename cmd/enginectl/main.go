// Command enginectl is a small operator CLI for inspecting and replaying
// dead-lettered jobs and for resetting a stuck run's checkpoint thread,
// the operator actions a dead-lettering system needs somewhere outside
// the worker process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ShadewG/autobot-engine/internal/app"
	"github.com/ShadewG/autobot-engine/internal/config"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "enginectl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Pool.Close()

	switch args[0] {
	case "dlq-list":
		return dlqList(ctx, a)
	case "dlq-retry":
		return dlqRetry(ctx, a, args[1:])
	case "dlq-discard":
		return dlqDiscard(ctx, a, args[1:])
	case "reset-checkpoint":
		return resetCheckpoint(ctx, a, args[1:])
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf(`usage: enginectl <command> [args]

commands:
  dlq-list                     list open dead-letter entries
  dlq-retry <id>                re-enqueue a dead-lettered job and mark it retried
  dlq-discard <id>              discard a dead-lettered job without retrying it
  reset-checkpoint <thread-id>  delete a thread's graph checkpoints`)
}

func dlqList(ctx context.Context, a *app.App) error {
	entries, err := a.Store.ListDeadLetters(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no open dead-letter entries")
		return nil
	}
	for _, d := range entries {
		fmt.Printf("%s\tqueue=%s\tjob=%s\tattempts=%d\tcase=%s\terror=%s\n",
			d.ID, d.Queue, d.JobName, d.Attempts, d.CaseID, d.Error)
	}
	return nil
}

func dlqRetry(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("dlq-retry", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("dlq-retry requires exactly one dead-letter id")
	}
	id := fs.Arg(0)

	entry, err := a.Store.GetDeadLetter(ctx, id)
	if err != nil {
		return err
	}
	if err := a.Queue.RetryDeadLetter(ctx, entry); err != nil {
		return err
	}
	if err := a.Store.MarkDeadLetterRetried(ctx, id); err != nil {
		return err
	}
	fmt.Printf("retried %s (%s)\n", id, entry.JobName)
	return nil
}

func dlqDiscard(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("dlq-discard", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("dlq-discard requires exactly one dead-letter id")
	}
	id := fs.Arg(0)
	if err := a.Store.DiscardDeadLetter(ctx, id); err != nil {
		return err
	}
	fmt.Printf("discarded %s\n", id)
	return nil
}

func resetCheckpoint(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("reset-checkpoint", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("reset-checkpoint requires exactly one thread id")
	}
	threadID := fs.Arg(0)
	if err := a.Checkpoint.DeleteByPrefix(ctx, threadID); err != nil {
		return err
	}
	fmt.Printf("reset checkpoints for thread %s\n", threadID)
	return nil
}

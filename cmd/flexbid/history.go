package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/flexbid/internal/adapters/notify"
	"github.com/alejandrodnm/flexbid/internal/adapters/storage"
)

func runHistory(ctx context.Context, store *storage.SQLiteStorage, console *notify.Console, window time.Duration) {
	to := time.Now().UTC()
	runs, err := store.ListRuns(ctx, to.Add(-window), to)
	if err != nil {
		slog.Error("failed to list runs", "err", err)
		os.Exit(1)
	}
	console.PrintRuns(runs)
}

func runShow(ctx context.Context, store *storage.SQLiteStorage, console *notify.Console, runID string) {
	res, err := store.GetResult(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Error("run not found", "run_id", runID)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("failed to load run", "err", err, "run_id", runID)
		os.Exit(1)
	}
	if err := console.Report(ctx, res); err != nil {
		slog.Warn("reporter error", "err", err)
	}
}

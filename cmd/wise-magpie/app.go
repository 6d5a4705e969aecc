package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wisemagpie/wise-magpie/internal/activity"
	"github.com/wisemagpie/wise-magpie/internal/budget"
	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/pattern"
	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/tasksrc"
)

// app bundles the config, store, and logger every command needs.
type app struct {
	cfg   *config.Config
	store *store.Store
	log   *slog.Logger
	dir   string
}

// openApp loads config and opens the store. Interactive commands log
// warnings and up to stderr; the daemon swaps in its own file logger.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dir, err := config.EnsureDir()
	if err != nil {
		return nil, err
	}
	st, err := store.New(filepath.Join(dir, config.DBFileName))
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	return &app{cfg: cfg, store: st, log: log, dir: dir}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func (a *app) lockPath() string {
	return filepath.Join(a.dir, config.PidFileName)
}

func (a *app) logPath() string {
	return filepath.Join(a.dir, config.LogFileName)
}

// fileLogger returns a logger writing structured lines to the daemon log
// file, mirrored to w when non-nil.
func (a *app) fileLogger(mirror io.Writer) (*slog.Logger, *os.File, error) {
	f, err := os.OpenFile(a.logPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = f
	if mirror != nil {
		w = io.MultiWriter(f, mirror)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})), f, nil
}

func (a *app) quotaAccountant() *quota.Accountant {
	return quota.NewAccountant(a.store, a.cfg, a.log)
}

func (a *app) budgetAccountant() *budget.Accountant {
	return budget.NewAccountant(a.store, a.cfg, a.log)
}

func (a *app) predictor() *pattern.Predictor {
	return pattern.NewPredictor(a.store)
}

func (a *app) monitor() *activity.Monitor {
	return activity.NewMonitor(activity.NewProcessProbe(""), a.store)
}

func (a *app) scanner() *tasksrc.Aggregator {
	return tasksrc.NewAggregator(a.store, a.log,
		tasksrc.NewQueueFileSource(),
		tasksrc.NewCommentSource(),
		tasksrc.NewTemplateSource(a.store, a.cfg),
	)
}

// daemonScanner omits the marker-comment source: a full tree scan every
// poll tick is too heavy, so comments are harvested by `tasks scan`.
func (a *app) daemonScanner(log *slog.Logger) *tasksrc.Aggregator {
	return tasksrc.NewAggregator(a.store, log,
		tasksrc.NewQueueFileSource(),
		tasksrc.NewTemplateSource(a.store, a.cfg),
	)
}

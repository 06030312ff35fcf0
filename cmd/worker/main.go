// Package main - точка входа для фоновых процессов (Worker) LearnPath.
//
// Worker отвечает за периодические задачи:
// - Пакетная отправка одобренных результатов на сертификацию
//
// При общей Redis-шине события обрабатывает процесс server; без Redis
// worker подписывает обработчики сам, иначе его события никто не увидит.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/learnpath/learnpath-core/config"
	"github.com/learnpath/learnpath-core/internal/app"
	"github.com/learnpath/learnpath-core/internal/infrastructure/scheduler"
	"github.com/learnpath/learnpath-core/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/learnpath/learnpath-core/internal/interface/http"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: string(cfg.App.Environment),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(logger.Component("worker"))

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СБОРКА ПРИЛОЖЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	container, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error("failed to release resources", logger.Err(err))
		}
	}()

	if container.Cache == nil {
		if err := container.RegisterEventHandlers(); err != nil {
			return fmt.Errorf("failed to register event handlers: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ИНИЦИАЛИЗАЦИЯ SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Location:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})

	submitJob := jobs.NewSubmitApprovedResultsJob(
		container.Repositories.Results,
		container.Commands.SubmitResult,
		cfg.Features.AutoSubmitApproved,
		cfg.Scheduler.SubmitBatchSize,
		log,
	)
	if err := sched.Register(submitJob, cfg.Scheduler.SubmitApprovedSpec); err != nil {
		return fmt.Errorf("failed to register %s: %w", submitJob.Name(), err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HEALTH SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  httpserver.DefaultConfig().IdleTimeout,
		Debug:        cfg.App.Debug,
	}, container.HealthChecker(), log)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("LearnPath worker is running", logger.Int("jobs", len(sched.Jobs())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		// Сначала дожидаемся текущей отправки, затем гасим health.
		schedErr := sched.Stop(shutdownCtx)
		if errors.Is(schedErr, scheduler.ErrSchedulerNotRunning) {
			schedErr = nil
		}
		return errors.Join(schedErr, server.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		log.Warn("shutdown completed with errors", logger.Err(err))
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

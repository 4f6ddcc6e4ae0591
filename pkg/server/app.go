package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"SignalDesk/internal/domain/repository"
	"SignalDesk/internal/usecase"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	pkgkafka "SignalDesk/pkg/kafka"
	applogger "SignalDesk/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	httpServer *xhttp.Server
	poller     *usecase.SignalPoller
	consumer   *pkgkafka.Consumer
	marks      repository.MarkStream
	closers    []namedCloser

	wg sync.WaitGroup
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New creates a new App. consumer and marks are optional.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	httpServer *xhttp.Server,
	poller *usecase.SignalPoller,
	consumer *pkgkafka.Consumer,
	marks repository.MarkStream,
) *App {
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		poller:     poller,
		consumer:   consumer,
		marks:      marks,
	}
}

// AddCloser registers an infrastructure client to close on shutdown,
// after every component using it has stopped.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.poller != nil {
		a.poller.Start(ctx)
		a.logger.Info("signal poller started",
			applogger.Duration("interval", a.cfg.Signals.PollInterval),
			applogger.Bool("paused", a.cfg.Signals.Disabled),
		)
	}

	if a.marks != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.marks.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("mark feed stopped", applogger.Error(err))
			}
		}()
		a.logger.Info("mark feed started", applogger.Strings("symbols", a.cfg.MarkFeed.Symbols))
	}

	if a.consumer != nil {
		if err := a.consumer.Start(ctx); err != nil {
			a.logger.Error("kafka consumer error", applogger.Error(err))
			return err
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown stops intake first, then background work, then closes clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.poller != nil {
		a.poller.Stop()
	}

	if a.marks != nil {
		if err := a.marks.Close(); err != nil {
			a.logger.Warn("mark feed close error", applogger.Error(err))
		}
	}
	a.wg.Wait()

	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.logger.Warn(nc.name+" close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

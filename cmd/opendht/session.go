package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/opendht"
	"github.com/opd-ai/opendht/dht"
	"github.com/opd-ai/opendht/factory"
	"github.com/opd-ai/opendht/interfaces"
)

// session is a running node with its background maintenance and metrics
// server.
type session struct {
	cfg    *Config
	node   *opendht.DHT
	cancel context.CancelFunc
	group  *errgroup.Group
}

// engineFactory returns the configured backend, or nil for the factory
// default. A configured identity fixes the node ID of the pure-Go engine.
func engineFactory(cfg *Config) (interfaces.Factory, error) {
	if cfg.Backend == "" && cfg.Identity == "" {
		return nil, nil
	}
	f := factory.NewEngineFactory()
	if cfg.Backend != "" {
		if err := f.SwitchBackend(interfaces.Backend(cfg.Backend)); err != nil {
			return nil, err
		}
	}
	if cfg.Identity != "" {
		kp, err := loadIdentity(cfg.Identity)
		if err != nil {
			return nil, err
		}
		if backend := f.GetCurrentConfig().Backend; backend != interfaces.BackendGo {
			logrus.WithFields(logrus.Fields{
				"function": "engineFactory",
				"backend":  backend,
			}).Warn("Identity only applies to the go backend, ignoring it")
		}
		f.SetGoOptions(dht.WithKeyPair(kp))
	}
	return f.Factory(), nil
}

// openSession starts a node, loads its snapshot and bootstraps it. A failed
// bootstrap is logged; the node keeps running.
func openSession(ctx context.Context, cfg *Config) (*session, error) {
	engine, err := engineFactory(cfg)
	if err != nil {
		return nil, err
	}
	opts := opendht.NewOptions(cfg.Port)
	opts.Engine = engine
	opts.StreamCapacity = cfg.StreamCapacity

	node, err := opendht.NewWithOptions(opts)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	s := &session{cfg: cfg, node: node, cancel: cancel, group: g}

	g.Go(func() error {
		return ignoreCanceled(node.Maintain(gctx))
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr)
		})
	}

	if cfg.Snapshot != "" {
		if err := node.LoadSnapshot(cfg.Snapshot); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logrus.WithFields(logrus.Fields{
				"function": "openSession",
				"path":     cfg.Snapshot,
				"error":    err.Error(),
			}).Warn("Ignoring snapshot")
		}
	}

	if len(cfg.Bootstrap) > 0 {
		s.bootstrap(ctx)
	}
	return s, nil
}

func (s *session) bootstrap(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	logger := logrus.WithFields(logrus.Fields{
		"function": "session.bootstrap",
		"nodes":    s.cfg.Bootstrap,
	})
	logger.Info("Bootstrapping...")

	done, err := s.node.BootstrapHosts(ctx, s.cfg.Bootstrap...)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("Bootstrap not started")
		return
	}
	ok, err := done.Wait(ctx)
	if err != nil || !ok {
		logger.WithField("error", errString(err)).Warn("Bootstrap failed, continuing without peers")
		return
	}
	logger.Info("Bootstrap complete")
}

// close saves the snapshot, stops background work and tears the node down.
func (s *session) close() error {
	var err error
	if s.cfg.Snapshot != "" {
		err = multierr.Append(err, s.node.SaveSnapshot(s.cfg.Snapshot))
	}
	s.cancel()
	err = multierr.Append(err, s.group.Wait())
	err = multierr.Append(err, s.node.Close())
	return err
}

// serveMetrics serves the opendht collectors until ctx is canceled.
func serveMetrics(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	if err := opendht.RegisterMetrics(reg); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "serveMetrics",
			"address":  addr,
		}).Info("Serving metrics")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

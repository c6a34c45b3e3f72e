package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	carotene "github.com/carotene/carotene.go"
	"github.com/carotene/carotene.go/pkg/logger"
	"github.com/carotene/carotene.go/pkg/metrics"
)

// session is one connected client with its logger and optional metrics endpoint.
type session struct {
	client  *carotene.Client
	log     logger.Logger
	closers []io.Closer
}

// connect loads the configuration, builds the client and lets setup register
// callbacks before the stream opens.
func connect(cmd *cobra.Command, opts *options, setup func(*carotene.Client) error) (*session, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, err
	}

	log, logCloser, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}
	s := &session{log: log}
	if logCloser != nil {
		s.closers = append(s.closers, logCloser)
	}

	clientCfg := cfg.Client()
	clientCfg.Logger = log

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		clientCfg.Metrics = metrics.New(metrics.WithRegistry(reg))

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint failed", "error", err)
			}
		}()
		s.closers = append(s.closers, srv)
		log.Info("serving metrics", "listen", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
	}

	s.client = carotene.New()
	s.client.SetOnDisconnect(func() {
		log.Warn("no transport could reach the server, retrying", "address", cfg.Address)
	})
	if setup != nil {
		if err := setup(s.client); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.client.Init(clientCfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// waitOpen blocks until the stream is open or ctx is done.
func (s *session) waitOpen(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for s.client.State() != carotene.StateOpen {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (s *session) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

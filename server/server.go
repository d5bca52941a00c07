/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	metrics "github.com/longsleep/go-metrics/loggedwriter"
	"github.com/longsleep/go-metrics/timing"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmrecorder/config"
	"stash.kopano.io/kwm/kwmrecorder/internal/history"
	"stash.kopano.io/kwm/kwmrecorder/internal/lkclient"
	"stash.kopano.io/kwm/kwmrecorder/recorder"
	apiv0 "stash.kopano.io/kwm/kwmrecorder/recorder/api-v0/service"
	"stash.kopano.io/kwm/kwmrecorder/recorder/sessions"
)

const shutdownTimeout = 10 * time.Second

// ManagerFactory creates the session manager of a Server.
type ManagerFactory func(config *cfg.Config, store sessions.HistoryStore) (*sessions.Manager, error)

// Server is our HTTP server implementation.
type Server struct {
	config *cfg.Config

	listenAddr string
	logger     logrus.FieldLogger

	requestLog bool

	newManager ManagerFactory
}

// NewServer constructs a server from the provided parameters.
func NewServer(c *cfg.Config) (*Server, error) {
	s := &Server{
		config: c,

		listenAddr: c.ListenAddr,
		logger:     c.Logger,

		requestLog: c.RequestLog,

		newManager: NewLiveKitManager,
	}

	return s, nil
}

// NewLiveKitManager creates a session manager connected to the LiveKit room
// and egress service of config.
func NewLiveKitManager(config *cfg.Config, store sessions.HistoryStore) (*sessions.Manager, error) {
	lkConfig := lkclient.NewConfig(config)

	client, err := lkclient.NewClient(lkConfig)
	if err != nil {
		return nil, err
	}
	egress, err := lkclient.NewEgressClient(lkConfig)
	if err != nil {
		return nil, err
	}

	return sessions.NewManager(config, client, egress, store)
}

// WithMetrics adds metrics logging to the provided http.Handler. When the
// handler is done, the context is canceled, logging metrics.
func (s *Server) WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithCancel(req.Context())

		loggedWriter := metrics.NewLoggedResponseWriter(rw)
		ctx = timing.NewContext(ctx, func(duration time.Duration) {
			durationMs := float64(duration) / float64(time.Millisecond)
			s.logger.WithFields(logrus.Fields{
				"status":     loggedWriter.Status(),
				"method":     req.Method,
				"path":       req.URL.Path,
				"remote":     req.RemoteAddr,
				"duration":   durationMs,
				"user-agent": req.UserAgent(),
			}).Debug("HTTP request complete")
		})
		rw = loggedWriter

		next.ServeHTTP(rw, req.WithContext(ctx))

		cancel()
	})
}

// AddContext adds the associated server's context to the provided
// http.Handler request.
func (s *Server) AddContext(parent context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(rw, req.WithContext(parent))
	})
}

// AddRoutes add the associated Servers URL routes to the provided router with
// the provided context.Context.
func (s *Server) AddRoutes(ctx context.Context, router *mux.Router, chain alice.Chain) http.Handler {
	router.Handle("/health-check", chain.ThenFunc(s.HealthCheckHandler))

	return router
}

// Serve joins the room, starts the HTTP listener and blocks until a signal is
// received, ctx is done or the room connection is lost. All recording
// sessions are stopped before it returns.
func (s *Server) Serve(ctx context.Context) error {
	var err error

	serveCtx, serveCtxCancel := context.WithCancel(ctx)
	defer serveCtxCancel()

	logger := s.logger
	services := &recorder.Services{}

	var store sessions.HistoryStore
	if s.config.HistoryDBPath != "" {
		historyStore, openErr := history.Open(serveCtx, s.config.HistoryDBPath, logger)
		if openErr != nil {
			return openErr
		}
		defer historyStore.Close()
		store = historyStore
		logger.WithField("database", s.config.HistoryDBPath).Infoln("recording history enabled")
	}

	manager, err := s.newManager(s.config, store)
	if err != nil {
		return err
	}
	services.SessionManager = manager
	logger.WithField("manager_id", manager.ID()).Debugln("session manager created")

	// HTTP services.
	router := mux.NewRouter()
	commonHandlers := alice.New()
	if s.requestLog {
		commonHandlers = commonHandlers.Append(s.WithMetrics)
	}

	s.AddRoutes(ctx, router, commonHandlers)
	apiv0Service := apiv0.NewHTTPService(serveCtx, logger, services)
	apiv0Service.AddRoutes(ctx, router, commonHandlers)

	logger.WithField("listenAddr", s.listenAddr).Infoln("starting http listener")
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}

	if err = manager.Start(serveCtx); err != nil {
		listener.Close()
		manager.Shutdown()
		return err
	}

	srv := &http.Server{
		Handler: s.AddContext(serveCtx, router),
	}

	// Further signals during shutdown are caught and ignored.
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var g run.Group
	g.Add(func() error {
		select {
		case reason := <-signalCh:
			logger.WithField("signal", reason).Warnln("received signal")
		case <-serveCtx.Done():
		}
		return nil
	}, func(error) {
		serveCtxCancel()
	})

	g.Add(func() error {
		serveErr := srv.Serve(listener)
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	}, func(error) {
		logger.Infoln("clean server shutdown start")
		shutDownCtx, shutDownCtxCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutDownCtxCancel()
		if shutdownErr := srv.Shutdown(shutDownCtx); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("clean server shutdown failed")
		}
		logger.Debugln("http listener stopped")
	})

	g.Add(func() error {
		return manager.Run(serveCtx)
	}, func(error) {
		logger.WithField("active", services.NumActive()).Infoln("stopping recording services")
		manager.Shutdown()
	})

	logger.Infoln("ready to handle requests")
	err = g.Run()

	logger.Infoln("clean server shutdown complete")
	return err
}

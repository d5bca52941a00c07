/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "stash.kopano.io/kwm/kwmrecorder/config"
	"stash.kopano.io/kwm/kwmrecorder/server"
	"stash.kopano.io/kwm/kwmrecorder/version"
)

const defaultListenAddr = "127.0.0.1:8779"

var (
	detectDeadlocks = false
)

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Join the room and record participants",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("listen", "", fmt.Sprintf("TCP listen address (default \"%s\")", defaultListenAddr))
	serveCmd.Flags().String("config", "", "Path to TOML configuration file")
	serveCmd.Flags().String("env-file", "", "Path to .env file loaded into the environment, existing variables are kept")
	serveCmd.Flags().String("room", "", "Name of the room to record, overrides LIVEKIT_ROOM_NAME")
	serveCmd.Flags().String("key-prefix", "", "Storage key prefix for recordings, overrides RECORDER_KEY_PREFIX")
	serveCmd.Flags().Duration("poll-interval", 0, "Interval between egress status polls, overrides RECORDER_POLL_INTERVAL")
	serveCmd.Flags().String("history-db", "", "Path to SQLite database to keep a history of finished recordings")
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	serveCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().Bool("with-request-log", false, "Log every HTTP request at debug level")
	serveCmd.Flags().Bool("with-pprof", false, "With pprof enabled")
	serveCmd.Flags().String("pprof-listen", "127.0.0.1:6060", "TCP listen address for pprof")
	serveCmd.Flags().Bool("with-metrics", false, "Enable metrics")
	serveCmd.Flags().String("metrics-listen", "127.0.0.1:6779", "TCP listen address for metrics")
	serveCmd.Flags().BoolVar(&detectDeadlocks, "with-deadlock-detector", detectDeadlocks, "Enable deadlock detection")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")
	if envLogLevel := os.Getenv("KWMRECORDERD_LOG_LEVEL"); envLogLevel != "" && !cmd.Flags().Changed("log-level") {
		logLevel = envLogLevel
	}

	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.WithField("version", version.Version).Infoln("serve start")

	deadlock.Opts.Disable = !detectDeadlocks
	deadlock.Opts.DeadlockTimeout = 15 * time.Second
	if !deadlock.Opts.Disable {
		logger.Warnln("enabled automatic deadlock detector")
	}

	config, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}

	listenAddr, _ := cmd.Flags().GetString("listen")
	if listenAddr == "" {
		listenAddr = os.Getenv("KWMRECORDERD_LISTEN")
	}
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	config.ListenAddr = listenAddr
	config.RequestLog, _ = cmd.Flags().GetBool("with-request-log")

	logger.WithFields(logrus.Fields{
		"url":           config.LiveKit.URL,
		"room":          config.LiveKit.Room,
		"identity":      config.LiveKit.Identity,
		"endpoint":      config.Storage.Endpoint,
		"bucket":        config.Storage.Bucket,
		"region":        config.Storage.Region,
		"path_style":    config.Storage.PathStyle(),
		"key_prefix":    config.Storage.KeyPrefix,
		"poll_interval": config.Recorder.PollInterval,
	}).Infoln("recorder configuration")

	// Metrics support.
	config.WithMetrics, _ = cmd.Flags().GetBool("with-metrics")
	config.MetricsListenAddr, _ = cmd.Flags().GetString("metrics-listen")
	if config.WithMetrics && config.MetricsListenAddr != "" {
		reg := prometheus.NewPedanticRegistry()
		config.Metrics = prometheus.WrapRegistererWithPrefix("kwmrecorderd_", reg)
		// Add the standard process and Go metrics to the custom registry.
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
		go func() {
			metricsListen := config.MetricsListenAddr
			handler := http.NewServeMux()
			logger.WithField("listenAddr", metricsListen).Infoln("metrics enabled, starting listener")
			handler.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			err := http.ListenAndServe(metricsListen, handler)
			if err != nil {
				logger.WithError(err).Errorln("unable to start metrics listener")
			}
		}()
	}

	srv, err := server.NewServer(config)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Profiling support.
	withPprof, _ := cmd.Flags().GetBool("with-pprof")
	pprofListenAddr, _ := cmd.Flags().GetString("pprof-listen")
	if withPprof && pprofListenAddr != "" {
		runtime.SetMutexProfileFraction(5)
		go func() {
			pprofListen := pprofListenAddr
			logger.WithField("listenAddr", pprofListen).Infoln("pprof enabled, starting listener")
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				logger.WithError(err).Errorln("unable to start pprof listener")
			}
		}()
	}

	logger.Infoln("serve started")
	return srv.Serve(ctx)
}

// loadConfig applies defaults, the config file, the env file, the
// environment and finally explicit flags.
func loadConfig(cmd *cobra.Command, logger logrus.FieldLogger) (*cfg.Config, error) {
	config := cfg.New()
	config.Logger = logger

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		if err := config.LoadFile(configFile); err != nil {
			return nil, err
		}
		logger.WithField("file", configFile).Debugln("loaded configuration file")
	}
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := cfg.LoadDotEnv(envFile); err != nil {
			return nil, err
		}
		logger.WithField("file", envFile).Debugln("loaded env file")
	}
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}

	if room, _ := cmd.Flags().GetString("room"); room != "" {
		config.LiveKit.Room = room
	}
	if keyPrefix, _ := cmd.Flags().GetString("key-prefix"); keyPrefix != "" {
		config.Storage.KeyPrefix = keyPrefix
	}
	if pollInterval, _ := cmd.Flags().GetDuration("poll-interval"); pollInterval > 0 {
		config.Recorder.PollInterval = pollInterval
	}
	if historyDB, _ := cmd.Flags().GetString("history-db"); historyDB != "" {
		config.HistoryDBPath = historyDB
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

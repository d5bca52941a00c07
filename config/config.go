/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package config

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Defaults.
const (
	DefaultIdentity     = "recorder"
	DefaultName         = "Recorder Bot"
	DefaultTokenTTL     = 24 * time.Hour
	DefaultKeyPrefix    = "livecall/test"
	DefaultPollInterval = 5 * time.Second
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Config defines a Server's configuration settings.
type Config struct {
	ListenAddr string
	RequestLog bool

	WithMetrics       bool
	MetricsListenAddr string

	Logger logrus.FieldLogger

	Metrics prometheus.Registerer

	LiveKit  LiveKit
	Storage  Storage
	Recorder Recorder

	HistoryDBPath string
}

// LiveKit holds the room connection and API credentials.
type LiveKit struct {
	URL       string
	APIKey    string
	APISecret string
	Room      string

	Identity   string
	Name       string
	CanPublish bool
	TokenTTL   time.Duration
}

// Storage describes the S3 compatible target the egress service uploads to.
type Storage struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	Secret    string

	// ForcePathStyle overrides the path style detection when set.
	ForcePathStyle *bool

	KeyPrefix string
}

// PathStyle reports whether path style bucket addressing is used. Unless
// explicitly configured, it is enabled for minio.
func (s *Storage) PathStyle() bool {
	if s.ForcePathStyle != nil {
		return *s.ForcePathStyle
	}
	return s.Region == "minio"
}

// Recorder holds the timing of the per participant recording sessions.
type Recorder struct {
	PollInterval time.Duration
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// New returns a Config with all defaults applied.
func New() *Config {
	return &Config{
		LiveKit: LiveKit{
			Identity: DefaultIdentity,
			Name:     DefaultName,
			TokenTTL: DefaultTokenTTL,
		},
		Storage: Storage{
			KeyPrefix: DefaultKeyPrefix,
		},
		Recorder: Recorder{
			PollInterval: DefaultPollInterval,
			StartTimeout: DefaultStartTimeout,
			StopTimeout:  DefaultStopTimeout,
		},
	}
}

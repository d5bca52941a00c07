/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultStartTimeout = 30 * time.Second
	defaultStopTimeout  = 10 * time.Second
)

// StateChangeFunc is called on every state transition of a Session. It runs
// with the session lock held and must not call back into the session.
type StateChangeFunc func(resource *SessionResource, from, to State)

// Options are shared by all sessions of a room.
type Options struct {
	Room string

	Egress EgressService

	// Storage is the target template, the Key is set per recording.
	Storage   StorageTarget
	KeyPrefix string

	PollInterval time.Duration
	StartTimeout time.Duration
	StopTimeout  time.Duration

	Logger  logrus.FieldLogger
	Metrics *Metrics

	OnStateChange StateChangeFunc

	// Now returns the current time, time.Now when nil.
	Now func() time.Time
}

func (options *Options) now() time.Time {
	if options.Now != nil {
		return options.Now()
	}
	return time.Now()
}

func (options *Options) startTimeout() time.Duration {
	if options.StartTimeout > 0 {
		return options.StartTimeout
	}
	return defaultStartTimeout
}

func (options *Options) stopTimeout() time.Duration {
	if options.StopTimeout > 0 {
		return options.StopTimeout
	}
	return defaultStopTimeout
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package lkclient

import (
	"time"

	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmrecorder/config"
)

type Config struct {
	URL       string
	APIKey    string
	APISecret string
	Room      string

	Identity   string
	Name       string
	CanPublish bool
	TokenTTL   time.Duration

	Logger logrus.FieldLogger
}

// NewConfig returns the client configuration of the LiveKit settings in c.
func NewConfig(c *config.Config) *Config {
	return &Config{
		URL:       c.LiveKit.URL,
		APIKey:    c.LiveKit.APIKey,
		APISecret: c.LiveKit.APISecret,
		Room:      c.LiveKit.Room,

		Identity:   c.LiveKit.Identity,
		Name:       c.LiveKit.Name,
		CanPublish: c.LiveKit.CanPublish,
		TokenTTL:   c.LiveKit.TokenTTL,

		Logger: c.Logger,
	}
}

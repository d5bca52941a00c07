/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package lkclient

import (
	"errors"

	"github.com/livekit/protocol/auth"

	cfg "stash.kopano.io/kwm/kwmrecorder/config"
)

// NewJoinToken returns a signed token which lets the recorder join the
// configured room as a subscriber.
func NewJoinToken(config *Config) (string, error) {
	if config.APIKey == "" || config.APISecret == "" {
		return "", errors.New("api key and secret are required")
	}
	if config.Room == "" {
		return "", errors.New("room is required")
	}

	canPublish := config.CanPublish
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           config.Room,
		CanPublish:     &canPublish,
		CanPublishData: &canPublish,
		CanSubscribe:   &canSubscribe,
		Recorder:       true,
		Hidden:         true,
	}

	identity := config.Identity
	if identity == "" {
		identity = cfg.DefaultIdentity
	}
	ttl := config.TokenTTL
	if ttl <= 0 {
		ttl = cfg.DefaultTokenTTL
	}

	at := auth.NewAccessToken(config.APIKey, config.APISecret)
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(config.Name).
		SetValidFor(ttl)

	return at.ToJWT()
}

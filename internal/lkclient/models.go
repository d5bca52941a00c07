/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package lkclient

import (
	"stash.kopano.io/kwm/kwmrecorder/internal/recording"
)

// EventType is the kind of a RoomEvent.
type EventType int

// Room event types.
const (
	ParticipantConnected EventType = iota + 1
	ParticipantDisconnected
	TrackSubscribed
	TrackUnsubscribed
	RoomReconnecting
	RoomReconnected
	RoomDisconnected
)

var eventTypeNames = map[EventType]string{
	ParticipantConnected:    "participant_connected",
	ParticipantDisconnected: "participant_disconnected",
	TrackSubscribed:         "track_subscribed",
	TrackUnsubscribed:       "track_unsubscribed",
	RoomReconnecting:        "room_reconnecting",
	RoomReconnected:         "room_reconnected",
	RoomDisconnected:        "room_disconnected",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// RoomEvent is emitted by a room connection. Track is set for track events,
// Reason for RoomDisconnected.
type RoomEvent struct {
	Type     EventType
	Identity string
	Track    *recording.TrackRef
	Reason   string
}

// Connection is an established room connection.
type Connection interface {
	Disconnect()
}

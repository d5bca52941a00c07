/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package lkclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmrecorder/internal/recording"
	"stash.kopano.io/kwm/kwmrecorder/internal/utils"
)

// Client connects the recorder to a LiveKit room.
type Client struct {
	id  string
	uri string

	config *Config
	logger logrus.FieldLogger
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	c := &Client{
		id:     utils.NewRandomGUID(),
		config: config,
		logger: config.Logger,
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	err := c.init(config.URL)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) init(uriString string) error {
	uri, err := url.Parse(uriString)
	if err != nil {
		return fmt.Errorf("invalid LiveKit URL: %w", err)
	}
	switch uri.Scheme {
	case "https", "http", "wss", "ws":
	default:
		return errors.New("unknown URI scheme")
	}

	c.uri, err = utils.AsWebsocketURL(uri.String())
	return err
}

// ID returns the unique id of the client.
func (c *Client) ID() string {
	return c.id
}

// Connect joins the configured room. Room events are sent to events until ctx
// is done or the connection is disconnected.
func (c *Client) Connect(ctx context.Context, events chan<- *RoomEvent) (Connection, error) {
	token, err := NewJoinToken(c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create join token: %w", err)
	}

	conn := &roomConnection{
		ctx:    ctx,
		events: events,
		closed: make(chan struct{}),
		logger: c.logger.WithField("room", c.config.Room),
	}

	c.logger.WithFields(logrus.Fields{
		"client_id": c.id,
		"url":       c.uri,
		"room":      c.config.Room,
		"identity":  c.config.Identity,
	}).Infoln("connecting to LiveKit room")

	room, err := lksdk.ConnectToRoomWithToken(c.uri, token,
		&lksdk.RoomCallback{
			ParticipantCallback: lksdk.ParticipantCallback{
				OnTrackSubscribed:   conn.onTrackSubscribed,
				OnTrackUnsubscribed: conn.onTrackUnsubscribed,
			},
			OnParticipantConnected:    conn.onParticipantConnected,
			OnParticipantDisconnected: conn.onParticipantDisconnected,
			OnDisconnectedWithReason:  conn.onDisconnected,
			OnReconnecting:            conn.onReconnecting,
			OnReconnected:             conn.onReconnected,
		},
		lksdk.WithAutoSubscribe(true),
	)
	if err != nil {
		return nil, err
	}
	conn.room = room

	c.logger.WithField("room", room.Name()).Infoln("connected to LiveKit room")
	return conn, nil
}

type roomConnection struct {
	ctx    context.Context
	events chan<- *RoomEvent
	logger logrus.FieldLogger

	room   *lksdk.Room
	once   sync.Once
	closed chan struct{}
}

func (conn *roomConnection) Disconnect() {
	conn.once.Do(func() {
		close(conn.closed)
		conn.logger.Infoln("disconnecting from LiveKit room")
		if conn.room != nil {
			conn.room.Disconnect()
		}
	})
}

func (conn *roomConnection) emit(event *RoomEvent) {
	select {
	case conn.events <- event:
	case <-conn.closed:
	case <-conn.ctx.Done():
		conn.logger.WithFields(logrus.Fields{
			"type":     event.Type,
			"identity": event.Identity,
		}).Debugln("dropping room event, connection closed")
	}
}

func (conn *roomConnection) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	conn.emit(&RoomEvent{
		Type:     ParticipantConnected,
		Identity: rp.Identity(),
	})
}

func (conn *roomConnection) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	conn.emit(&RoomEvent{
		Type:     ParticipantDisconnected,
		Identity: rp.Identity(),
	})
}

func (conn *roomConnection) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	conn.emit(&RoomEvent{
		Type:     TrackSubscribed,
		Identity: rp.Identity(),
		Track:    newTrackRef(track, pub),
	})
}

func (conn *roomConnection) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	conn.emit(&RoomEvent{
		Type:     TrackUnsubscribed,
		Identity: rp.Identity(),
		Track:    newTrackRef(track, pub),
	})
}

func (conn *roomConnection) onDisconnected(reason lksdk.DisconnectionReason) {
	conn.emit(&RoomEvent{
		Type:   RoomDisconnected,
		Reason: fmt.Sprintf("%v", reason),
	})
}

func (conn *roomConnection) onReconnecting() {
	conn.emit(&RoomEvent{Type: RoomReconnecting})
}

func (conn *roomConnection) onReconnected() {
	conn.emit(&RoomEvent{Type: RoomReconnected})
}

func newTrackRef(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication) *recording.TrackRef {
	ref := &recording.TrackRef{
		SID:      pub.SID(),
		Kind:     trackKind(pub.Kind()),
		Source:   pub.Source().String(),
		MimeType: pub.MimeType(),
	}
	if ref.MimeType == "" && track != nil {
		ref.MimeType = track.Codec().MimeType
	}
	return ref
}

func trackKind(kind lksdk.TrackKind) recording.TrackKind {
	switch kind {
	case lksdk.TrackKindAudio:
		return recording.TrackKindAudio
	case lksdk.TrackKindVideo:
		return recording.TrackKindVideo
	}
	return recording.TrackKind(kind)
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

// TrackKind is the media kind of a track.
type TrackKind string

// Track kinds.
const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackRef references a subscribed remote track.
type TrackRef struct {
	SID      string    `json:"sid"`
	Kind     TrackKind `json:"kind"`
	Source   string    `json:"source,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
}

// TrackPair collects the audio and video track of one participant until a
// recording can start. It is not safe for concurrent use, the owning Session
// serializes access.
type TrackPair struct {
	audio *TrackRef
	video *TrackRef
}

// SetAudio stores the audio track unless one is stored already and reports
// whether it was stored.
func (p *TrackPair) SetAudio(track *TrackRef) bool {
	if p.audio != nil || track == nil {
		return false
	}
	p.audio = track
	return true
}

// SetVideo stores the video track unless one is stored already. It returns
// true exactly once, when the first video track is stored. Audio is optional.
func (p *TrackPair) SetVideo(track *TrackRef) bool {
	if p.video != nil || track == nil {
		return false
	}
	p.video = track
	return true
}

// Audio returns the stored audio track or nil.
func (p *TrackPair) Audio() *TrackRef {
	return p.audio
}

// Video returns the stored video track or nil.
func (p *TrackPair) Video() *TrackRef {
	return p.video
}

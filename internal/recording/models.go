/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"time"
)

type SessionResource struct {
	ID       string    `json:"id"`
	Identity string    `json:"identity"`
	Room     string    `json:"room"`
	When     time.Time `json:"when"`
	State    State     `json:"state"`
	Key      string    `json:"key,omitempty"`

	Audio *TrackRef    `json:"audio,omitempty"`
	Video *TrackRef    `json:"video,omitempty"`
	Job   *JobResource `json:"job,omitempty"`
}

type JobResource struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Status    JobStatus  `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Resource returns a snapshot of the session.
func (s *Session) Resource() *SessionResource {
	s.Lock()
	defer s.Unlock()

	return s.resource()
}

func (s *Session) resource() *SessionResource {
	resource := &SessionResource{
		ID:       s.id,
		Identity: s.identity,
		Room:     s.options.Room,
		When:     s.when,
		State:    s.state,
		Key:      s.key,
	}
	if audio := s.tracks.Audio(); audio != nil {
		a := *audio
		resource.Audio = &a
	}
	if video := s.tracks.Video(); video != nil {
		v := *video
		resource.Video = &v
	}
	if s.job != nil {
		resource.Job = &JobResource{
			ID:        s.job.ID,
			Key:       s.job.Key,
			Status:    s.job.Status,
			Error:     s.job.Error,
			StartedAt: s.job.StartedAt,
		}
		if !s.job.EndedAt.IsZero() {
			endedAt := s.job.EndedAt
			resource.Job.EndedAt = &endedAt
		}
	}

	return resource
}

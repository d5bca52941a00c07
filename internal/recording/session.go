/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmrecorder/internal/utils"
)

const (
	maxPollBackoff = time.Minute
	minPollTimeout = 5 * time.Second
)

// Session records one participant. It pairs the participant's tracks, starts
// a composite egress job once video is available, polls the job until it
// ends and stops it when the session is stopped.
type Session struct {
	deadlock.Mutex

	id       string
	identity string
	when     time.Time

	options *Options
	logger  logrus.FieldLogger

	tracks TrackPair
	key    string
	job    *Job
	state  State

	closed int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates an idle session for identity.
func NewSession(identity string, options *Options) (*Session, error) {
	if identity == "" {
		return nil, errors.New("identity cannot be empty")
	}
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if options.Egress == nil {
		return nil, errors.New("egress service cannot be nil")
	}
	if options.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	s := &Session{
		id:       utils.NewRandomGUID(),
		identity: identity,
		when:     options.now(),

		options: options,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s.logger = logger.WithFields(logrus.Fields{
		"identity":   identity,
		"session_id": s.id,
	})

	return s, nil
}

// ID returns the unique id of the session.
func (s *Session) ID() string {
	return s.id
}

// Identity returns the participant identity.
func (s *Session) Identity() string {
	return s.identity
}

// State returns the current state.
func (s *Session) State() State {
	s.Lock()
	defer s.Unlock()

	return s.state
}

// Job returns a copy of the job handle, or nil if no job was started.
func (s *Session) Job() *Job {
	s.Lock()
	defer s.Unlock()

	if s.job == nil {
		return nil
	}
	job := *s.job
	return &job
}

// SetAudioTrack stores the audio track of the participant. It never starts a
// recording.
func (s *Session) SetAudioTrack(track *TrackRef) {
	if track == nil {
		return
	}

	s.Lock()
	defer s.Unlock()

	logger := s.logger.WithField("track_sid", track.SID)
	if !s.acceptsTracks() {
		logger.WithField("state", s.state).Debugln("ignoring audio track, recording already requested")
		return
	}
	if !s.tracks.SetAudio(track) {
		logger.Debugln("ignoring additional audio track")
		return
	}

	logger.Infoln("audio track stored for participant")
	s.setState(StateAwaitingVideo)
}

// SetVideoTrack stores the video track of the participant and starts the
// recording. Only the first video track starts a recording.
func (s *Session) SetVideoTrack(track *TrackRef) {
	if track == nil {
		return
	}

	s.Lock()
	defer s.Unlock()

	logger := s.logger.WithField("track_sid", track.SID)
	if !s.acceptsTracks() {
		logger.WithField("state", s.state).Debugln("ignoring video track, recording already requested")
		return
	}
	if !s.tracks.SetVideo(track) {
		logger.Debugln("ignoring additional video track")
		return
	}

	logger.Infoln("video track stored for participant")
	s.start()
}

// Stop ends the session. It cancels polling and requests a remote stop of the
// job if one is running. Stop is idempotent and may be called in any state.
func (s *Session) Stop() {
	s.Lock()
	defer s.Unlock()

	if closed := atomic.SwapInt32(&s.closed, 1); closed == 1 {
		// Already stopped.
		return
	}

	s.logger.Infoln("stopping recording for participant")
	s.cancel()
	s.setState(StateStopped)

	if s.job != nil && !s.job.Status.Finished() {
		s.wg.Add(1)
		go s.stopJob(s.job.ID)
	}
}

// Wait blocks until all background work of the session has ended.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

func (s *Session) acceptsTracks() bool {
	if s.isClosed() {
		return false
	}
	return s.state == StateIdle || s.state == StateAwaitingVideo
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to || from.Terminal() {
		return
	}
	s.state = to

	if to.Terminal() {
		s.options.Metrics.sessionEnded(to)
		if s.job != nil && s.job.EndedAt.IsZero() {
			s.job.EndedAt = s.options.now()
		}
	}

	s.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debugln("recording session state changed")

	if s.options.OnStateChange != nil {
		s.options.OnStateChange(s.resource(), from, to)
	}
}

// start must be called with the lock held.
func (s *Session) start() {
	video := s.tracks.Video()
	if video == nil {
		s.logger.Warnln("cannot start recording for participant, missing video track")
		return
	}

	when := s.options.now()
	req := &JobRequest{
		Room:         s.options.Room,
		VideoTrackID: video.SID,
		Storage:      s.options.Storage,
	}
	req.Storage.Key = StorageKey(s.options.KeyPrefix, s.identity, when)
	if audio := s.tracks.Audio(); audio != nil {
		req.AudioTrackID = audio.SID
	}
	s.key = req.Storage.Key

	s.logger.WithFields(logrus.Fields{
		"bucket":   req.Storage.Bucket,
		"key":      req.Storage.Key,
		"endpoint": req.Storage.Endpoint,
		"audio":    req.AudioTrackID,
		"video":    req.VideoTrackID,
	}).Infoln("starting egress for participant")
	s.setState(StateStarting)

	s.wg.Add(1)
	go s.runStart(req, when)
}

func (s *Session) runStart(req *JobRequest, when time.Time) {
	defer s.wg.Done()

	// Not bound to the session context, a job which gets created while the
	// session stops must still be stopped.
	ctx, cancel := context.WithTimeout(context.Background(), s.options.startTimeout())
	info, err := s.options.Egress.StartCompositeJob(ctx, req)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrJobStart, err)
	} else if info == nil || info.ID == "" {
		err = ErrNoJobID
	}

	s.Lock()
	defer s.Unlock()

	logger := s.logger.WithField("key", req.Storage.Key)
	if err != nil {
		s.options.Metrics.jobStartFailed()
		logger.WithError(err).Errorln("failed to start egress for participant")
		s.setState(StateFailed)
		return
	}

	s.options.Metrics.jobStarted()
	s.job = &Job{
		ID:        info.ID,
		Key:       req.Storage.Key,
		Status:    info.Status,
		Error:     info.Error,
		StartedAt: when,
	}
	logger = logger.WithField("job_id", info.ID)
	logger.WithField("url", req.Storage.URL()).Infoln("egress started for participant")

	if s.isClosed() {
		logger.Infoln("session stopped while egress was starting, stopping egress")
		s.wg.Add(1)
		go s.stopJob(info.ID)
		return
	}

	s.setState(StateMonitoring)
	s.wg.Add(1)
	go s.monitor(info.ID)
}

func (s *Session) monitor(jobID string) {
	defer s.wg.Done()

	logger := s.logger.WithField("job_id", jobID)
	interval := s.options.PollInterval

	retry := &backoff.ExponentialBackOff{
		InitialInterval:     interval,
		RandomizationFactor: 0.5,
		Multiplier:          1.5,
		MaxInterval:         maxPollBackoff,
	}
	if retry.MaxInterval < interval {
		retry.MaxInterval = interval
	}
	retry.Reset()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Debugln("stop signal received for egress status monitoring")
			return
		case <-timer.C:
		}
		if s.ctx.Err() != nil {
			// Cancelled while the timer fired.
			return
		}

		done, err := s.poll(jobID)
		if done {
			return
		}

		next := interval
		if err != nil {
			next = retry.NextBackOff()
			logger.WithField("retry_in", next).Debugln("egress status poll failed, retry scheduled")
		} else {
			retry.Reset()
		}
		timer.Reset(next)
	}
}

// poll queries the job status once. It reports done when monitoring must end.
func (s *Session) poll(jobID string) (bool, error) {
	timeout := s.options.PollInterval
	if timeout < minPollTimeout {
		timeout = minPollTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	jobs, err := s.options.Egress.ListJobs(ctx, s.options.Room)
	cancel()

	s.Lock()
	defer s.Unlock()

	if s.isClosed() || s.state != StateMonitoring {
		return true, nil
	}

	logger := s.logger.WithField("job_id", jobID)
	if err != nil {
		s.options.Metrics.pollFailed()
		logger.WithError(fmt.Errorf("%w: %w", ErrJobStatus, err)).Warnln("error listing egress for participant")
		return false, err
	}

	var info *JobInfo
	for _, job := range jobs {
		if job != nil && job.ID == jobID {
			info = job
			break
		}
	}
	if info == nil {
		logger.Debugln("egress job not listed yet")
		return false, nil
	}

	s.job.Status = info.Status
	s.job.Error = info.Error

	logger = logger.WithField("status", info.Status)
	logger.WithFields(ReadResourceUsage().Fields()).Infoln("egress status for participant")

	switch info.Status {
	case JobStatusComplete:
		logger.Infoln("egress completed successfully for participant")
		s.setState(StateCompleted)

	case JobStatusFailed:
		logger.WithField("error", info.Error).Errorln("egress failed for participant")
		if hint := ClassifyJobError(info.Error).Hint(s.options.Storage.Bucket); hint != "" {
			logger.Warnln(hint)
		}
		s.setState(StateFailed)

	case JobStatusAborted:
		logger.Infoln("egress aborted for participant")
		s.setState(StateAborted)

	default:
		return false, nil
	}

	return true, nil
}

func (s *Session) stopJob(jobID string) {
	defer s.wg.Done()

	logger := s.logger.WithField("job_id", jobID)

	ctx, cancel := context.WithTimeout(context.Background(), s.options.stopTimeout())
	defer cancel()

	if err := s.options.Egress.StopJob(ctx, jobID); err != nil {
		s.options.Metrics.stopFailed()
		logger.WithError(fmt.Errorf("%w: %w", ErrJobStop, err)).Warnln("failed to stop egress for participant")
		return
	}

	logger.Infoln("stopped egress for participant")
}

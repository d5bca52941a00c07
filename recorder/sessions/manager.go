/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmrecorder/config"
	"stash.kopano.io/kwm/kwmrecorder/internal/history"
	"stash.kopano.io/kwm/kwmrecorder/internal/lkclient"
	"stash.kopano.io/kwm/kwmrecorder/internal/recording"
	"stash.kopano.io/kwm/kwmrecorder/internal/utils"
)

const (
	eventQueueSize   = 64
	historyQueueSize = 64
	historyTimeout   = 5 * time.Second
)

var (
	// ErrConnect is returned by Start when the room cannot be joined.
	ErrConnect = errors.New("failed to connect to room")
	// ErrRoomDisconnected is returned by Run when the room connection ended
	// for good.
	ErrRoomDisconnected = errors.New("room connection lost")
	// ErrHistoryDisabled is returned by Records when no history store is
	// configured.
	ErrHistoryDisabled = errors.New("recording history is not enabled")
)

// Connector joins a room and sends its events to events.
type Connector interface {
	Connect(ctx context.Context, events chan<- *lkclient.RoomEvent) (lkclient.Connection, error)
}

// HistoryStore persists finished recordings.
type HistoryStore interface {
	Save(ctx context.Context, record *history.Record) error
	List(ctx context.Context, limit int) ([]*history.Record, error)
}

// Manager owns the room connection and one recording session per
// participant.
type Manager struct {
	deadlock.Mutex

	id     string
	logger logrus.FieldLogger
	config *cfg.Config

	connector Connector
	options   *recording.Options
	history   HistoryStore

	sessions cmap.ConcurrentMap
	events   chan *lkclient.RoomEvent
	records  chan *history.Record
	conn     lkclient.Connection

	closed       int32
	done         chan struct{}
	historyDone  chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	historyWg    sync.WaitGroup
}

// NewManager creates a Manager for the room configured in config. The
// history store is optional.
func NewManager(config *cfg.Config, connector Connector, egress recording.EgressService, store HistoryStore) (*Manager, error) {
	if connector == nil {
		return nil, errors.New("connector cannot be nil")
	}
	if egress == nil {
		return nil, errors.New("egress service cannot be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	id := utils.NewRandomString(12)
	logger = logger.WithFields(logrus.Fields{
		"manager":    "sessions",
		"manager_id": id,
	})

	m := &Manager{
		id:     id,
		logger: logger,
		config: config,

		connector: connector,
		history:   store,

		sessions: cmap.New(),
		events:   make(chan *lkclient.RoomEvent, eventQueueSize),
		records:  make(chan *history.Record, historyQueueSize),
		done:     make(chan struct{}),

		historyDone: make(chan struct{}),
	}

	m.options = &recording.Options{
		Room:   config.LiveKit.Room,
		Egress: egress,
		Storage: recording.StorageTarget{
			Bucket:    config.Storage.Bucket,
			Endpoint:  config.Storage.Endpoint,
			Region:    config.Storage.Region,
			AccessKey: config.Storage.AccessKey,
			Secret:    config.Storage.Secret,
			PathStyle: config.Storage.PathStyle(),
		},
		KeyPrefix: config.Storage.KeyPrefix,

		PollInterval: config.Recorder.PollInterval,
		StartTimeout: config.Recorder.StartTimeout,
		StopTimeout:  config.Recorder.StopTimeout,

		Logger:  m.logger.WithField("room", config.LiveKit.Room),
		Metrics: recording.NewMetrics(config.Metrics),

		OnStateChange: m.onStateChange,
	}

	if config.Metrics != nil {
		config.Metrics.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of participant recording sessions",
		}, func() float64 {
			return float64(m.NumActive())
		}))
	}

	if store != nil {
		m.historyWg.Add(1)
		go m.historyWriter()
	}

	return m, nil
}

// ID returns the random id of the manager.
func (m *Manager) ID() string {
	return m.id
}

// Start joins the room.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.WithField("room", m.config.LiveKit.Room).Infoln("joining room")

	conn, err := m.connector.Connect(ctx, m.events)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	m.Lock()
	if m.isClosed() {
		m.Unlock()
		conn.Disconnect()
		return errors.New("manager is shut down")
	}
	m.conn = conn
	m.Unlock()

	return nil
}

// Run handles room events until ctx is done or the room connection is lost.
// Either way all sessions are shut down before it returns.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return nil

		case <-m.done:
			return nil

		case event := <-m.events:
			if event.Type == lkclient.RoomDisconnected {
				m.logger.WithField("reason", event.Reason).Errorln("disconnected from room")
				m.Shutdown()
				return fmt.Errorf("%w: %s", ErrRoomDisconnected, event.Reason)
			}
			m.handleEvent(event)
		}
	}
}

func (m *Manager) handleEvent(event *lkclient.RoomEvent) {
	m.Lock()
	defer m.Unlock()

	logger := m.logger.WithFields(logrus.Fields{
		"event":    event.Type,
		"identity": event.Identity,
	})

	if m.isClosed() {
		logger.Debugln("ignoring room event after shutdown")
		return
	}

	switch event.Type {
	case lkclient.ParticipantConnected:
		logger.Infoln("participant connected")

	case lkclient.TrackSubscribed:
		if event.Track == nil || event.Identity == "" {
			logger.Warnln("ignoring track event without track or identity")
			return
		}
		session, err := m.getOrCreateSession(event.Identity)
		if err != nil {
			logger.WithError(err).Errorln("failed to create recording session")
			return
		}

		logger = logger.WithFields(logrus.Fields{
			"track": event.Track.SID,
			"kind":  event.Track.Kind,
		})
		switch event.Track.Kind {
		case recording.TrackKindAudio:
			logger.Infoln("audio track subscribed")
			session.SetAudioTrack(event.Track)
		case recording.TrackKindVideo:
			logger.Infoln("video track subscribed")
			session.SetVideoTrack(event.Track)
		default:
			logger.Warnln("ignoring track of unknown kind")
		}

	case lkclient.TrackUnsubscribed:
		logger.Debugln("track unsubscribed")

	case lkclient.ParticipantDisconnected:
		logger.Infoln("participant disconnected")
		record, ok := m.sessions.Pop(event.Identity)
		if !ok {
			return
		}
		session := record.(*recording.Session)
		session.Stop()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			session.Wait()
			logger.WithField("session_id", session.ID()).Debugln("recording session ended")
		}()

	case lkclient.RoomReconnecting:
		logger.Warnln("room connection interrupted, reconnecting")

	case lkclient.RoomReconnected:
		logger.Infoln("room connection restored")

	default:
		logger.Warnln("ignoring unknown room event")
	}
}

// getOrCreateSession must be called with the lock held.
func (m *Manager) getOrCreateSession(identity string) (*recording.Session, error) {
	if record, ok := m.sessions.Get(identity); ok {
		return record.(*recording.Session), nil
	}

	session, err := recording.NewSession(identity, m.options)
	if err != nil {
		return nil, err
	}
	m.sessions.Set(identity, session)

	m.logger.WithFields(logrus.Fields{
		"identity":   identity,
		"session_id": session.ID(),
	}).Debugln("recording session created")

	return session, nil
}

// Shutdown stops all sessions, waits for them and leaves the room. It is
// safe to call more than once, later calls block until the first returns.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Infoln("shutting down recording sessions")

		m.Lock()
		atomic.StoreInt32(&m.closed, 1)
		close(m.done)
		sessions := make([]*recording.Session, 0, m.sessions.Count())
		for identity, record := range m.sessions.Items() {
			m.sessions.Remove(identity)
			session := record.(*recording.Session)
			session.Stop()
			sessions = append(sessions, session)
		}
		conn := m.conn
		m.conn = nil
		m.Unlock()

		// All sessions are terminal now, no more records are queued.
		close(m.historyDone)

		for _, session := range sessions {
			session.Wait()
		}
		m.wg.Wait()

		if conn != nil {
			conn.Disconnect()
		}
		m.historyWg.Wait()

		m.logger.WithField("sessions", len(sessions)).Infoln("recording sessions shut down")
	})
}

func (m *Manager) isClosed() bool {
	return atomic.LoadInt32(&m.closed) == 1
}

// NumActive returns the number of participant sessions.
func (m *Manager) NumActive() uint64 {
	return uint64(m.sessions.Count())
}

// Sessions returns a snapshot of all sessions ordered by identity.
func (m *Manager) Sessions() []*recording.SessionResource {
	resources := make([]*recording.SessionResource, 0, m.sessions.Count())
	m.sessions.IterCb(func(identity string, record interface{}) {
		resources = append(resources, record.(*recording.Session).Resource())
	})
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].Identity < resources[j].Identity
	})
	return resources
}

// Session returns a snapshot of the session of identity, or nil.
func (m *Manager) Session(identity string) *recording.SessionResource {
	record, ok := m.sessions.Get(identity)
	if !ok {
		return nil
	}
	return record.(*recording.Session).Resource()
}

// Records returns finished recordings from the history store.
func (m *Manager) Records(ctx context.Context, limit int) ([]*history.Record, error) {
	if m.history == nil {
		return nil, ErrHistoryDisabled
	}
	return m.history.List(ctx, limit)
}

// onStateChange runs with the session lock held.
func (m *Manager) onStateChange(resource *recording.SessionResource, from, to recording.State) {
	if !to.Terminal() || m.history == nil {
		return
	}

	record := &history.Record{
		SessionID: resource.ID,
		Room:      resource.Room,
		Identity:  resource.Identity,
		Key:       resource.Key,
		State:     to.String(),
		EndedAt:   time.Now(),
	}
	if job := resource.Job; job != nil {
		record.JobID = job.ID
		record.Error = job.Error
		startedAt := job.StartedAt
		record.StartedAt = &startedAt
		if job.EndedAt != nil {
			record.EndedAt = *job.EndedAt
		}
	}

	select {
	case m.records <- record:
	default:
		m.logger.WithField("session_id", record.SessionID).Warnln("history queue full, recording not saved")
	}
}

func (m *Manager) historyWriter() {
	defer m.historyWg.Done()

	for {
		select {
		case record := <-m.records:
			m.saveRecord(record)
		case <-m.historyDone:
			for {
				select {
				case record := <-m.records:
					m.saveRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) saveRecord(record *history.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if err := m.history.Save(ctx, record); err != nil {
		m.logger.WithError(err).WithField("session_id", record.SessionID).Errorln("failed to save recording history")
	}
}

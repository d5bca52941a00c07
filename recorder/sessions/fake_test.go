/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmrecorder/config"
	"stash.kopano.io/kwm/kwmrecorder/internal/history"
	"stash.kopano.io/kwm/kwmrecorder/internal/lkclient"
	"stash.kopano.io/kwm/kwmrecorder/internal/recording"
)

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

// fakeEgress derives job ids from the video track, EG_<video sid>.
type fakeEgress struct {
	sync.Mutex

	statuses map[string]recording.JobStatus
	starts   []*recording.JobRequest
	stops    []string
	stopErrs map[string]error
}

func newFakeEgress() *fakeEgress {
	return &fakeEgress{
		statuses: make(map[string]recording.JobStatus),
		stopErrs: make(map[string]error),
	}
}

func (f *fakeEgress) StartCompositeJob(ctx context.Context, req *recording.JobRequest) (*recording.JobInfo, error) {
	f.Lock()
	defer f.Unlock()

	f.starts = append(f.starts, req)
	id := "EG_" + req.VideoTrackID
	f.statuses[id] = recording.JobStatusActive
	return &recording.JobInfo{ID: id, Status: recording.JobStatusStarting}, nil
}

func (f *fakeEgress) StopJob(ctx context.Context, jobID string) error {
	f.Lock()
	defer f.Unlock()

	f.stops = append(f.stops, jobID)
	return f.stopErrs[jobID]
}

func (f *fakeEgress) ListJobs(ctx context.Context, room string) ([]*recording.JobInfo, error) {
	f.Lock()
	defer f.Unlock()

	jobs := make([]*recording.JobInfo, 0, len(f.statuses))
	for id, status := range f.statuses {
		jobs = append(jobs, &recording.JobInfo{ID: id, Status: status})
	}
	return jobs, nil
}

func (f *fakeEgress) setStatus(id string, status recording.JobStatus) {
	f.Lock()
	defer f.Unlock()

	f.statuses[id] = status
}

func (f *fakeEgress) failStop(id string, err error) {
	f.Lock()
	defer f.Unlock()

	f.stopErrs[id] = err
}

func (f *fakeEgress) startRequests() []*recording.JobRequest {
	f.Lock()
	defer f.Unlock()

	return append([]*recording.JobRequest(nil), f.starts...)
}

func (f *fakeEgress) stopRequests() []string {
	f.Lock()
	defer f.Unlock()

	return append([]string(nil), f.stops...)
}

type fakeConnection struct {
	sync.Mutex

	disconnects int
}

func (conn *fakeConnection) Disconnect() {
	conn.Lock()
	defer conn.Unlock()

	conn.disconnects++
}

func (conn *fakeConnection) disconnectCount() int {
	conn.Lock()
	defer conn.Unlock()

	return conn.disconnects
}

type fakeConnector struct {
	err    error
	conn   *fakeConnection
	events chan<- *lkclient.RoomEvent
}

func (c *fakeConnector) Connect(ctx context.Context, events chan<- *lkclient.RoomEvent) (lkclient.Connection, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.events = events
	c.conn = &fakeConnection{}
	return c.conn, nil
}

func (c *fakeConnector) send(events ...*lkclient.RoomEvent) {
	for _, event := range events {
		c.events <- event
	}
}

type fakeHistory struct {
	sync.Mutex

	records []*history.Record
}

func (h *fakeHistory) Save(ctx context.Context, record *history.Record) error {
	h.Lock()
	defer h.Unlock()

	h.records = append(h.records, record)
	return nil
}

func (h *fakeHistory) List(ctx context.Context, limit int) ([]*history.Record, error) {
	h.Lock()
	defer h.Unlock()

	return append([]*history.Record(nil), h.records...), nil
}

func (h *fakeHistory) all() []*history.Record {
	records, _ := h.List(context.Background(), 0)
	return records
}

func newTestConfig() *cfg.Config {
	config := cfg.New()
	config.Logger = logger
	config.LiveKit.Room = "standup"
	config.Storage.Endpoint = "s3.example.com"
	config.Storage.Bucket = "recordings"
	config.Storage.Region = "minio"
	config.Storage.AccessKey = "access"
	config.Storage.Secret = "secret"
	config.Recorder.PollInterval = 10 * time.Millisecond
	config.Recorder.StartTimeout = time.Second
	config.Recorder.StopTimeout = time.Second
	return config
}

type testManager struct {
	*Manager

	connector *fakeConnector
	egress    *fakeEgress
	cancel    context.CancelFunc
	result    chan error
}

// newTestManager starts a manager with fakes and runs it until the test ends.
func newTestManager(t *testing.T, store HistoryStore) *testManager {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tm := &testManager{
		connector: &fakeConnector{},
		egress:    newFakeEgress(),
		cancel:    cancel,
		result:    make(chan error, 1),
	}

	m, err := NewManager(newTestConfig(), tm.connector, tm.egress, store)
	if err != nil {
		t.Fatal(err)
	}
	if err = m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	tm.Manager = m

	go func() {
		tm.result <- m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		m.Shutdown()
	})

	return tm
}

func (tm *testManager) wait(t *testing.T) error {
	t.Helper()

	select {
	case err := <-tm.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for manager to stop")
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForSessionState(t *testing.T, m *Manager, identity string, want recording.State) {
	t.Helper()

	waitFor(t, identity+" "+want.String(), func() bool {
		session := m.Session(identity)
		return session != nil && session.State == want
	})
}

func trackSubscribed(identity string, kind recording.TrackKind) *lkclient.RoomEvent {
	return &lkclient.RoomEvent{
		Type:     lkclient.TrackSubscribed,
		Identity: identity,
		Track: &recording.TrackRef{
			SID:  "TR_" + string(kind)[:1] + "_" + identity,
			Kind: kind,
		},
	}
}

func participantDisconnected(identity string) *lkclient.RoomEvent {
	return &lkclient.RoomEvent{
		Type:     lkclient.ParticipantDisconnected,
		Identity: identity,
	}
}

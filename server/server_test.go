/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmrecorder/config"
	"stash.kopano.io/kwm/kwmrecorder/internal/lkclient"
	"stash.kopano.io/kwm/kwmrecorder/internal/recording"
	"stash.kopano.io/kwm/kwmrecorder/recorder/sessions"
)

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

func newTestServer(ctx context.Context, t *testing.T) (*httptest.Server, *Server, http.Handler, *cfg.Config) {
	config := &cfg.Config{
		Logger: logger,
	}

	server, err := NewServer(config)
	if err != nil {
		t.Fatal(err)
	}
	router := mux.NewRouter()
	server.AddRoutes(ctx, router, alice.New().Append(server.WithMetrics))

	s := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		router.ServeHTTP(rw, req)
	}))

	return s, server, router, config
}

func TestNewTestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer, _, _, _ := newTestServer(ctx, t)
	defer httpServer.Close()

	response, err := http.Get(httpServer.URL + "/health-check")
	if err != nil {
		t.Fatal(err)
	}
	response.Body.Close()

	if status := response.StatusCode; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
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

type fakeConnector struct {
	sync.Mutex

	err    error
	conn   *fakeConnection
	events chan<- *lkclient.RoomEvent
	ready  chan struct{}
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		conn:  &fakeConnection{},
		ready: make(chan struct{}),
	}
}

func (c *fakeConnector) Connect(ctx context.Context, events chan<- *lkclient.RoomEvent) (lkclient.Connection, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.Lock()
	c.events = events
	c.Unlock()
	close(c.ready)
	return c.conn, nil
}

func (c *fakeConnector) send(event *lkclient.RoomEvent) {
	<-c.ready
	c.Lock()
	events := c.events
	c.Unlock()
	events <- event
}

type fakeEgress struct{}

func (fakeEgress) StartCompositeJob(ctx context.Context, req *recording.JobRequest) (*recording.JobInfo, error) {
	return &recording.JobInfo{ID: "EG_1", Status: recording.JobStatusStarting}, nil
}

func (fakeEgress) StopJob(ctx context.Context, jobID string) error {
	return nil
}

func (fakeEgress) ListJobs(ctx context.Context, room string) ([]*recording.JobInfo, error) {
	return nil, nil
}

func newServeTestServer(t *testing.T, connector *fakeConnector) *Server {
	t.Helper()

	config := cfg.New()
	config.Logger = logger
	config.ListenAddr = "127.0.0.1:0"
	config.LiveKit.Room = "standup"
	config.HistoryDBPath = filepath.Join(t.TempDir(), "history.db")

	server, err := NewServer(config)
	if err != nil {
		t.Fatal(err)
	}
	server.newManager = func(config *cfg.Config, store sessions.HistoryStore) (*sessions.Manager, error) {
		if store == nil {
			t.Error("expected history store")
		}
		return sessions.NewManager(config, connector, fakeEgress{}, store)
	}
	return server
}

func serveAsync(ctx context.Context, server *Server) chan error {
	result := make(chan error, 1)
	go func() {
		result <- server.Serve(ctx)
	}()
	return result
}

func waitForResult(t *testing.T, result chan error) error {
	t.Helper()

	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server to stop")
	}
	return nil
}

func TestServeStopsOnContextDone(t *testing.T) {
	connector := newFakeConnector()
	server := newServeTestServer(t, connector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := serveAsync(ctx, server)

	<-connector.ready
	cancel()

	if err := waitForResult(t, result); err != nil {
		t.Fatalf("unexpected serve error: %v", err)
	}

	connector.conn.Lock()
	defer connector.conn.Unlock()
	if connector.conn.disconnects != 1 {
		t.Errorf("unexpected number of room disconnects: got %d want 1", connector.conn.disconnects)
	}
}

func TestServeFailsOnRoomDisconnect(t *testing.T) {
	connector := newFakeConnector()
	server := newServeTestServer(t, connector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := serveAsync(ctx, server)

	connector.send(&lkclient.RoomEvent{
		Type:   lkclient.RoomDisconnected,
		Reason: "RoomDeleted",
	})

	err := waitForResult(t, result)
	if !errors.Is(err, sessions.ErrRoomDisconnected) {
		t.Fatalf("expected room disconnected error, got %v", err)
	}
}

func TestServeFailsOnConnectError(t *testing.T) {
	connector := newFakeConnector()
	connector.err = errors.New("401 unauthorized")
	server := newServeTestServer(t, connector)

	err := server.Serve(context.Background())
	if !errors.Is(err, sessions.ErrConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

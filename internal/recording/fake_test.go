/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

const testPollInterval = 10 * time.Millisecond

var testNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeEgress struct {
	sync.Mutex

	prefix   string
	startErr error
	noJobID  bool
	listErr  error
	stopErr  error

	// stopHang blocks StopJob until its context ends when set.
	stopHang bool

	// startGate blocks StartCompositeJob until closed when set.
	startGate chan struct{}

	nextID   int
	statuses map[string]JobStatus
	errors   map[string]string

	starts []*JobRequest
	stops  []string
	lists  int
}

func newFakeEgress(prefix string) *fakeEgress {
	return &fakeEgress{
		prefix:   prefix,
		statuses: make(map[string]JobStatus),
		errors:   make(map[string]string),
	}
}

func (f *fakeEgress) StartCompositeJob(ctx context.Context, req *JobRequest) (*JobInfo, error) {
	if f.startGate != nil {
		select {
		case <-f.startGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.Lock()
	defer f.Unlock()

	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.noJobID {
		return &JobInfo{Status: JobStatusStarting}, nil
	}

	f.nextID++
	id := fmt.Sprintf("%s_%d", f.prefix, f.nextID)
	f.statuses[id] = JobStatusStarting
	return &JobInfo{ID: id, Status: JobStatusStarting}, nil
}

func (f *fakeEgress) StopJob(ctx context.Context, jobID string) error {
	f.Lock()
	f.stops = append(f.stops, jobID)
	stopErr, stopHang := f.stopErr, f.stopHang
	f.Unlock()

	if stopHang {
		<-ctx.Done()
		return ctx.Err()
	}
	return stopErr
}

func (f *fakeEgress) ListJobs(ctx context.Context, room string) ([]*JobInfo, error) {
	f.Lock()
	defer f.Unlock()

	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	jobs := make([]*JobInfo, 0, len(f.statuses))
	for id, status := range f.statuses {
		jobs = append(jobs, &JobInfo{ID: id, Status: status, Error: f.errors[id]})
	}
	return jobs, nil
}

func (f *fakeEgress) setStatus(id string, status JobStatus, errText string) {
	f.Lock()
	defer f.Unlock()

	f.statuses[id] = status
	f.errors[id] = errText
}

func (f *fakeEgress) hide(id string) {
	f.Lock()
	defer f.Unlock()

	delete(f.statuses, id)
}

func (f *fakeEgress) setListErr(err error) {
	f.Lock()
	defer f.Unlock()

	f.listErr = err
}

func (f *fakeEgress) startRequests() []*JobRequest {
	f.Lock()
	defer f.Unlock()

	return append([]*JobRequest(nil), f.starts...)
}

func (f *fakeEgress) stopRequests() []string {
	f.Lock()
	defer f.Unlock()

	return append([]string(nil), f.stops...)
}

func (f *fakeEgress) listCount() int {
	f.Lock()
	defer f.Unlock()

	return f.lists
}

func newTestOptions(egress EgressService) *Options {
	return &Options{
		Room:   "standup",
		Egress: egress,
		Storage: StorageTarget{
			Bucket:    "recordings",
			Endpoint:  "s3.example.com",
			Region:    "minio",
			AccessKey: "access",
			Secret:    "secret",
			PathStyle: true,
		},
		KeyPrefix: "livecall/test",

		PollInterval: testPollInterval,
		StartTimeout: time.Second,
		StopTimeout:  time.Second,

		Logger: logger,
		Now: func() time.Time {
			return testNow
		},
	}
}

func newTestSession(t *testing.T, identity string, options *Options) *Session {
	t.Helper()

	s, err := NewSession(identity, options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return s
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

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()

	waitFor(t, "state "+want.String(), func() bool {
		return s.State() == want
	})
}

func audioTrack(sid string) *TrackRef {
	return &TrackRef{SID: sid, Kind: TrackKindAudio}
}

func videoTrack(sid string) *TrackRef {
	return &TrackRef{SID: sid, Kind: TrackKindVideo}
}

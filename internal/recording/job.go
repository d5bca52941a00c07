/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"context"
	"strings"
	"time"
)

// JobStatus is the remote status of an egress job.
type JobStatus int

// Job statuses as reported by the egress service.
const (
	JobStatusUnknown JobStatus = iota
	JobStatusStarting
	JobStatusActive
	JobStatusComplete
	JobStatusFailed
	JobStatusAborted
)

var jobStatusNames = map[JobStatus]string{
	JobStatusUnknown:  "UNKNOWN",
	JobStatusStarting: "STARTING",
	JobStatusActive:   "ACTIVE",
	JobStatusComplete: "COMPLETE",
	JobStatusFailed:   "FAILED",
	JobStatusAborted:  "ABORTED",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return jobStatusNames[JobStatusUnknown]
}

// Finished reports whether the job ended remotely.
func (s JobStatus) Finished() bool {
	switch s {
	case JobStatusComplete, JobStatusFailed, JobStatusAborted:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StorageTarget is the object storage location of a recording.
type StorageTarget struct {
	Key       string
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	Secret    string
	PathStyle bool
}

// URL returns the expected public URL of the stored object.
func (t *StorageTarget) URL() string {
	return "https://" + t.Endpoint + "/" + t.Key
}

// JobRequest describes a composite job over one video and an optional audio
// track.
type JobRequest struct {
	Room         string
	AudioTrackID string
	VideoTrackID string
	Storage      StorageTarget
}

// JobInfo is the remote view of a job.
type JobInfo struct {
	ID     string
	Status JobStatus
	Error  string
}

// EgressService is the remote recording service. Implementations must be safe
// for concurrent use.
type EgressService interface {
	StartCompositeJob(ctx context.Context, req *JobRequest) (*JobInfo, error)
	StopJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, room string) ([]*JobInfo, error)
}

// Job is the local handle of one remote recording job.
type Job struct {
	ID     string
	Key    string
	Status JobStatus
	Error  string

	StartedAt time.Time
	EndedAt   time.Time
}

// StorageKey returns the object key for a recording of identity started at
// when, for example livecall/test/ingress_alice_2024-01-02T03-04-05.000Z.mp4.
func StorageKey(prefix, identity string, when time.Time) string {
	ts := strings.ReplaceAll(when.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
	name := "ingress_" + identity + "_" + ts + ".mp4"
	if prefix == "" {
		return name
	}
	return strings.TrimRight(prefix, "/") + "/" + name
}

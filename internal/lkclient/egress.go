/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package lkclient

import (
	"context"
	"errors"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmrecorder/internal/recording"
	"stash.kopano.io/kwm/kwmrecorder/internal/utils"
)

// EgressClient implements recording.EgressService with the LiveKit egress
// API.
type EgressClient struct {
	client *lksdk.EgressClient
	logger logrus.FieldLogger
}

func NewEgressClient(config *Config) (*EgressClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	uri, err := utils.AsHTTPURL(config.URL)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &EgressClient{
		client: lksdk.NewEgressClient(uri, config.APIKey, config.APISecret),
		logger: logger.WithField("client", "egress"),
	}, nil
}

func (c *EgressClient) StartCompositeJob(ctx context.Context, req *recording.JobRequest) (*recording.JobInfo, error) {
	info, err := c.client.StartTrackCompositeEgress(ctx, newTrackCompositeRequest(req))
	if err != nil {
		return nil, err
	}

	return newJobInfo(info), nil
}

func (c *EgressClient) StopJob(ctx context.Context, jobID string) error {
	_, err := c.client.StopEgress(ctx, &livekit.StopEgressRequest{
		EgressId: jobID,
	})
	return err
}

func (c *EgressClient) ListJobs(ctx context.Context, room string) ([]*recording.JobInfo, error) {
	res, err := c.client.ListEgress(ctx, &livekit.ListEgressRequest{
		RoomName: room,
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*recording.JobInfo, 0, len(res.GetItems()))
	for _, item := range res.GetItems() {
		jobs = append(jobs, newJobInfo(item))
	}
	return jobs, nil
}

func newTrackCompositeRequest(req *recording.JobRequest) *livekit.TrackCompositeEgressRequest {
	return &livekit.TrackCompositeEgressRequest{
		RoomName:     req.Room,
		AudioTrackId: req.AudioTrackID,
		VideoTrackId: req.VideoTrackID,
		FileOutputs: []*livekit.EncodedFileOutput{
			{
				FileType: livekit.EncodedFileType_MP4,
				Filepath: req.Storage.Key,
				Output: &livekit.EncodedFileOutput_S3{
					S3: &livekit.S3Upload{
						AccessKey:      req.Storage.AccessKey,
						Secret:         req.Storage.Secret,
						Region:         req.Storage.Region,
						Endpoint:       req.Storage.Endpoint,
						Bucket:         req.Storage.Bucket,
						ForcePathStyle: req.Storage.PathStyle,
					},
				},
			},
		},
	}
}

func newJobInfo(info *livekit.EgressInfo) *recording.JobInfo {
	return &recording.JobInfo{
		ID:     info.GetEgressId(),
		Status: jobStatus(info.GetStatus()),
		Error:  info.GetError(),
	}
}

func jobStatus(status livekit.EgressStatus) recording.JobStatus {
	switch status {
	case livekit.EgressStatus_EGRESS_STARTING:
		return recording.JobStatusStarting
	case livekit.EgressStatus_EGRESS_ACTIVE, livekit.EgressStatus_EGRESS_ENDING:
		return recording.JobStatusActive
	case livekit.EgressStatus_EGRESS_COMPLETE, livekit.EgressStatus_EGRESS_LIMIT_REACHED:
		return recording.JobStatusComplete
	case livekit.EgressStatus_EGRESS_FAILED:
		return recording.JobStatusFailed
	case livekit.EgressStatus_EGRESS_ABORTED:
		return recording.JobStatusAborted
	}
	return recording.JobStatusUnknown
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"errors"
	"strings"
)

// Errors returned or logged by sessions.
var (
	ErrJobStart  = errors.New("failed to start egress job")
	ErrNoJobID   = errors.New("egress service returned no job id")
	ErrJobStatus = errors.New("failed to list egress jobs")
	ErrJobStop   = errors.New("failed to stop egress job")
)

// Cause is the classified reason of a remote job failure.
type Cause int

// Known failure causes.
const (
	CauseUnknown Cause = iota
	CauseAccessDenied
	CauseNoSuchBucket
)

// ClassifyJobError maps the error text of a failed job to a known Cause.
func ClassifyJobError(text string) Cause {
	switch {
	case strings.Contains(text, "AccessDenied"):
		return CauseAccessDenied
	case strings.Contains(text, "NoSuchBucket"):
		return CauseNoSuchBucket
	}
	return CauseUnknown
}

// Hint returns an operator facing hint for c. It is empty for CauseUnknown.
func (c Cause) Hint(bucket string) string {
	switch c {
	case CauseAccessDenied:
		return "storage access denied, check the access key, secret and bucket permissions"
	case CauseNoSuchBucket:
		return "storage bucket not found, check that bucket '" + bucket + "' exists"
	}
	return ""
}

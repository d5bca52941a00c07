/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"runtime"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
)

const mb = 1024 * 1024

// ResourceUsage is a snapshot of the process memory usage.
type ResourceUsage struct {
	RSS       uint64
	HeapTotal uint64
	HeapUsed  uint64
}

// ReadResourceUsage returns the current memory usage of the process. RSS is
// zero where /proc is not available.
func ReadResourceUsage() ResourceUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	usage := ResourceUsage{
		HeapTotal: ms.HeapSys,
		HeapUsed:  ms.HeapAlloc,
	}
	if proc, err := procfs.Self(); err == nil {
		if stat, statErr := proc.Stat(); statErr == nil {
			usage.RSS = uint64(stat.ResidentMemory())
		}
	}

	return usage
}

// Fields returns the usage in MB for structured logging.
func (u ResourceUsage) Fields() logrus.Fields {
	return logrus.Fields{
		"rss_mb":        (u.RSS + mb/2) / mb,
		"heap_total_mb": (u.HeapTotal + mb/2) / mb,
		"heap_used_mb":  (u.HeapUsed + mb/2) / mb,
	}
}

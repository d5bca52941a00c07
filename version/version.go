/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package version

import (
	"fmt"
)

// Version and build information, set with ldflags at build time.
var (
	Version   = "0.0.0-dev"
	BuildDate = "unknown"
)

// Full returns a one line version string suitable for logs and the version
// command.
func Full(name string) string {
	return fmt.Sprintf("%s %s (built %s)", name, Version, BuildDate)
}

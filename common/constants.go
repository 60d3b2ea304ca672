package common

import "time"

// Version is stamped by the build; the default marks development builds.
var Version = "v0.0.0-dev"

// StartTime records process start for uptime reporting.
var StartTime = time.Now()

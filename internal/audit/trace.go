package audit

import (
	"os"
	"sync/atomic"
)

// traceEnabled turns on one http.request event per handled request.
var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(os.Getenv("CONTESTARE_TRACE") != "")
}

// TraceEnabled reports whether request tracing is on.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

// SetTraceEnabled overrides the CONTESTARE_TRACE setting, typically from
// configuration.
func SetTraceEnabled(v bool) {
	traceEnabled.Store(v)
}

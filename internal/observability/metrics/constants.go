// Package metrics provides the Prometheus collectors of biosig.
package metrics

import "time"

// Recorder operation labels
const (
	OpOpen   = "open"
	OpWrite  = "write"
	OpRotate = "rotate"
	OpClose  = "close"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server
const ShutdownTimeout = 5 * time.Second

// Namespace prefixes every metric name
const Namespace = "biosig"

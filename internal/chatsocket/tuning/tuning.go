// Package tuning centralizes the timer durations spec.md §5 names, so
// every component reads the same constants instead of re-deriving them.
package tuning

import "time"

const (
	// Heartbeat is the per-instance repeating ping/liveness-check period.
	Heartbeat = 30 * time.Second

	// Reconnect is the per-controller repeating retry period while the
	// desired state is Open but no instance is connected. Exponential
	// backoff is an open question spec.md §9 explicitly defers; this
	// constant is the documented decision to keep it constant for now.
	Reconnect = 5 * time.Second

	// ConnectWatchdog is the one-shot per-instance deadline for a
	// connection attempt to reach Open before it is cycled.
	ConnectWatchdog = 30 * time.Second

	// RequestTimeout is the one-shot per-request deadline before it is
	// failed with NetworkFailure.
	RequestTimeout = 10 * time.Second

	// BackgroundReconciliation is the repeating tick driving re-evaluation
	// while the app is inactive and the desired state is Open, so the
	// socket closes promptly once its keep-alive window lapses.
	BackgroundReconciliation = 1 * time.Second
)

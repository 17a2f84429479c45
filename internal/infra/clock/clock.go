// Package clock centralizes "what time is it" for the fleet so every
// subsystem observes the same notion of now and the same display timezone.
package clock

import (
	"time"

	"telegram-fleet/internal/infra/config"
)

// Now returns the current instant. The daily reset hour is matched against
// the UTC hour; schedule and sleep windows are evaluated in the account's own
// Schedule.TZ (UTC when unset). APP_TIMEZONE plays no part in either.
func Now() time.Time {
	return time.Now()
}

// InAppLocation converts t to the fleet's display timezone (APP_TIMEZONE),
// for operator-facing output (CLI, logs, result files).
func InAppLocation(t time.Time) time.Time {
	return t.In(config.AppLocation())
}

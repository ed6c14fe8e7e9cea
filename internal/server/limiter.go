package server

import "log/slog"

// allowSubscription enforces the per-timite stream limit. In "cycle" mode the
// oldest live subscription is cancelled to make room for the new one.
func (a *App) allowSubscription(timiteID uint64) bool {
	limit := a.config.Server.SubscriptionLimit
	if limit.MaxPerTimite <= 0 {
		return true
	}

	count := a.hub.CountForTimite(timiteID)
	if count < limit.MaxPerTimite {
		return true
	}

	a.logger.Warn("Timite subscription limit reached",
		slog.Uint64("timiteID", timiteID),
		slog.Int("count", count),
	)
	switch limit.Mode {
	case "reject":
		return false
	case "cycle":
		if old, ok := a.hub.OldestForTimite(timiteID); ok {
			old.Cancel()
		}
		return true
	default:
		a.logger.Error("Invalid subscription limit mode configured", slog.String("mode", limit.Mode))
		return false
	}
}

package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "contestbot/pkg/logx"
)

// sdNotify sends a state to systemd when running under a Type=notify unit.
// Outside systemd it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec until ctx is done.
// healthy gates each ping so a wedged app gets restarted.
func watchdog(ctx context.Context, log logx.Logger, healthy func(context.Context) error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	every := interval / 2
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil {
				hctx, cancel := context.WithTimeout(ctx, every/2)
				err := healthy(hctx)
				cancel()
				if err != nil {
					log.Warn("health check failed; skipping watchdog ping", logx.Err(err))
					continue
				}
			}
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}

package config

import (
	"reflect"

	logx "contestbot/pkg/logx"
)

// Sections that take effect only after a restart.
var restartOnly = map[string]bool{"telegram": true, "http": true, "storage": true}

// Change lists the sections that differ between two configs.
type Change struct {
	Sections []string
	// Restart lists changed sections that a reload cannot apply.
	Restart []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares old and new by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	pairs := []struct {
		name     string
		old, new any
	}{
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"http", oldCfg.HTTP, newCfg.HTTP},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"contests", oldCfg.Contests, newCfg.Contests},
		{"reminders", oldCfg.Reminders, newCfg.Reminders},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler},
		{"logging", oldCfg.Logging, newCfg.Logging},
	}
	var ch Change
	for _, p := range pairs {
		if reflect.DeepEqual(p.old, p.new) {
			continue
		}
		ch.Sections = append(ch.Sections, p.name)
		if restartOnly[p.name] {
			ch.Restart = append(ch.Restart, p.name)
		}
	}
	return ch
}

// SafeFields returns log fields describing cfg without secrets.
func SafeFields(cfg *Config) []logx.Field {
	if cfg == nil {
		return nil
	}
	return []logx.Field{
		logx.String("telegram.mode", cfg.Telegram.Mode),
		logx.Bool("telegram.token_set", cfg.Telegram.Token != ""),
		logx.String("http.addr", cfg.HTTP.Addr),
		logx.String("storage.driver", cfg.Storage.Driver),
		logx.Int("contests.hosts", len(cfg.Contests.Hosts)),
		logx.String("contests.ttl", cfg.Contests.TTL),
		logx.String("reminders.default_timezone", cfg.Reminders.DefaultTimezone),
		logx.String("scheduler.schedule", cfg.Scheduler.Schedule),
		logx.String("logging.level", cfg.Logging.Level),
	}
}

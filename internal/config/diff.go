package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level is applied live; every other change is listed in
// RestartRequired so the operator can be told.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed and only
	// take effect after a restart, in a stable order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"tutor", old.Tutor, new.Tutor},
		{"render", old.Render, new.Render},
		{"store", old.Store, new.Store},
		{"sessions", old.Sessions, new.Sessions},
		{"discord", old.Discord, new.Discord},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}

package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// TeacherChanged is set when the teacher section differs. It is applied
	// to the settings store without a restart.
	TeacherChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.TeacherChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.TeacherChanged = !reflect.DeepEqual(old.Teacher, new.Teacher)

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Live != new.Live {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}

	return d
}

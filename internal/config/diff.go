package config

import "github.com/MrWong99/streamasr/pkg/endpoint"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// HotwordsChanged is set when the file name, score or strict mode
	// changed. [Watcher] also sets it when only the file content changed.
	HotwordsChanged bool
	NewHotwords     HotwordsConfig

	EndpointChanged bool
	NewEndpoint     endpoint.Config

	// RestartRequired lists sections whose changes are ignored until restart.
	RestartRequired []string
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.HotwordsChanged && !d.EndpointChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Hotwords.File != new.Hotwords.File ||
		old.Hotwords.Score != new.Hotwords.Score ||
		old.Hotwords.IsStrict() != new.Hotwords.IsStrict() {
		d.HotwordsChanged = true
		d.NewHotwords = new.Hotwords
	}

	// Disabling endpointing needs a restart; the rules themselves do not.
	if old.Endpoint.Config != new.Endpoint.Config {
		d.EndpointChanged = true
		d.NewEndpoint = new.Endpoint.Config
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.MaxStreams != new.Server.MaxStreams {
		d.RestartRequired = append(d.RestartRequired, "server.max_streams")
	}
	if old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server.trace_sample_ratio")
	}
	if !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.ONNX != new.ONNX {
		d.RestartRequired = append(d.RestartRequired, "onnx")
	}
	if old.Model != new.Model {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if old.Decoding != new.Decoding {
		d.RestartRequired = append(d.RestartRequired, "decoding")
	}
	if old.Features != new.Features {
		d.RestartRequired = append(d.RestartRequired, "features")
	}
	if old.Endpoint.IsEnabled() != new.Endpoint.IsEnabled() {
		d.RestartRequired = append(d.RestartRequired, "endpoint.enable")
	}
	if old.VAD != new.VAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if old.Stream != new.Stream {
		d.RestartRequired = append(d.RestartRequired, "stream")
	}
	if !sameEntry(old.Offline, new.Offline) {
		d.RestartRequired = append(d.RestartRequired, "offline")
	}
	if len(old.Sinks) != len(new.Sinks) {
		d.RestartRequired = append(d.RestartRequired, "sinks")
	} else {
		for i := range old.Sinks {
			if !sameEntry(old.Sinks[i], new.Sinks[i]) {
				d.RestartRequired = append(d.RestartRequired, "sinks")
				break
			}
		}
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares the scalar fields of two entries. Options are not
// compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.URL == b.URL && a.Path == b.Path &&
		a.Model == b.Model && a.Language == b.Language
}

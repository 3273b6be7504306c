package app

import (
	"log/slog"

	"github.com/MrWong99/streamasr/internal/config"
	"github.com/MrWong99/streamasr/pkg/contextgraph"
)

// onConfigChange is the [config.Watcher] callback.
func (a *App) onConfigChange(ch config.Change) { a.reload(ch.Diff) }

// reload applies the hot-reloadable part of d. Open streams keep the
// hotwords and endpoint rules they were created with.
func (a *App) reload(d config.ConfigDiff) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
		}
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.HotwordsChanged {
		a.reloadHotwords(d.NewHotwords)
	}

	if d.EndpointChanged {
		a.rec.SetEndpointConfig(d.NewEndpoint)
		slog.Info("endpoint rules changed",
			"rule1", d.NewEndpoint.Rule1,
			"rule2", d.NewEndpoint.Rule2,
			"rule3", d.NewEndpoint.Rule3,
		)
	}
}

// reloadHotwords rebuilds the default hotword graph. A file that fails to
// load leaves the current graph in place.
func (a *App) reloadHotwords(hc config.HotwordsConfig) {
	phrases, err := loadHotwords(hc, a.rec.Symbols())
	if err != nil {
		slog.Error("hotwords reload failed, keeping the current list", "file", hc.File, "err", err)
		return
	}
	if len(phrases) == 0 {
		a.rec.SetContextGraph(nil)
	} else {
		a.rec.SetContextGraph(contextgraph.New(phrases, hc.Score))
	}
	slog.Info("hotwords reloaded", "file", hc.File, "phrases", len(phrases), "score", hc.Score)
}

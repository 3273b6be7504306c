package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/streamasr/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
model:
  encoder: enc.onnx
  decoder: dec.onnx
  joiner: join.onnx
  tokens: tokens.txt
`

const watcherUpdatedYAML = `
server:
  log_level: debug
model:
  encoder: enc.onnx
  decoder: dec.onnx
  joiner: join.onnx
  tokens: tokens.txt
endpoint:
  rule2:
    must_contain_nonsilence: true
    min_trailing_silence: 0.8
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// watch starts a fast-polling watcher on content and returns the file path
// and a channel receiving every reported change.
func watch(t *testing.T, content string) (*config.Watcher, string, <-chan config.Change) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, content)

	changes := make(chan config.Change, 8)
	w, err := config.NewWatcher(cfgPath, func(ch config.Change) { changes <- ch }, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, cfgPath, changes
}

func waitChange(t *testing.T, changes <-chan config.Change) config.Change {
	t.Helper()
	select {
	case ch := <-changes:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
		return config.Change{}
	}
}

func expectQuiet(t *testing.T, changes <-chan config.Change) {
	t.Helper()
	select {
	case ch := <-changes:
		t.Fatalf("unexpected change: %+v", ch.Diff)
	case <-time.After(200 * time.Millisecond):
	}
}

// bumpMtime makes sure a rewrite is visible on filesystems with coarse
// timestamps.
func bumpMtime(t *testing.T, path string, d time.Duration) {
	t.Helper()
	at := time.Now().Add(d)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := watch(t, watcherValidYAML)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing file"},
		{name: "invalid config", content: watcherInvalidYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			if tt.content != "" {
				writeFile(t, path, tt.content)
			}
			if _, err := config.NewWatcher(path, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	w, cfgPath, changes := watch(t, watcherValidYAML)

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, time.Second)
	ch := waitChange(t, changes)

	if ch.Old.Server.LogLevel != config.LogInfo || ch.New.Server.LogLevel != config.LogDebug {
		t.Errorf("log level %q -> %q, want info -> debug", ch.Old.Server.LogLevel, ch.New.Server.LogLevel)
	}
	if !ch.Diff.LogLevelChanged || !ch.Diff.EndpointChanged || ch.Diff.NewEndpoint.Rule2.MinTrailingSilence != 0.8 {
		t.Errorf("Diff = %+v, want log level and endpoint changes", ch.Diff)
	}
	if ch.Diff.HotwordsChanged {
		t.Error("hotwords reported as changed")
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() not updated")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	w, cfgPath, changes := watch(t, watcherValidYAML)

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath, time.Second)
	expectQuiet(t, changes)

	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have the old config, got log_level=%q", w.Current().Server.LogLevel)
	}

	// A later valid edit is still picked up.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, 2*time.Second)
	if ch := waitChange(t, changes); ch.Old.Server.LogLevel != config.LogInfo {
		t.Errorf("Old should be the last valid config, got log_level=%q", ch.Old.Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	_, cfgPath, changes := watch(t, watcherValidYAML)
	bumpMtime(t, cfgPath, time.Second)
	expectQuiet(t, changes)
}

func TestWatcher_HotwordsFileContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	hwPath := filepath.Join(dir, "hotwords.txt")
	writeFile(t, hwPath, "HELLO WORLD\n")

	_, _, changes := watch(t, watcherValidYAML+"hotwords:\n  file: "+hwPath+"\n")

	// Touching the hotwords file is not a change.
	bumpMtime(t, hwPath, time.Second)
	expectQuiet(t, changes)

	writeFile(t, hwPath, "HELLO WORLD\nGOOD MORNING\n")
	ch := waitChange(t, changes)
	if !ch.Diff.HotwordsChanged || ch.Diff.NewHotwords.File != hwPath {
		t.Errorf("Diff = %+v, want hotwords change for %s", ch.Diff, hwPath)
	}
	if ch.Diff.LogLevelChanged || ch.Diff.EndpointChanged {
		t.Errorf("unexpected changes: %+v", ch.Diff)
	}
}

func TestWatcher_RestartOnlyChangeIsReported(t *testing.T) {
	t.Parallel()
	_, cfgPath, changes := watch(t, watcherValidYAML)

	writeFile(t, cfgPath, watcherValidYAML+"onnx:\n  num_threads: 2\n")
	bumpMtime(t, cfgPath, time.Second)
	ch := waitChange(t, changes)
	if !ch.Diff.Empty() {
		t.Errorf("nothing hot-reloadable changed: %+v", ch.Diff)
	}
	if len(ch.Diff.RestartRequired) != 1 || ch.Diff.RestartRequired[0] != "onnx" {
		t.Errorf("RestartRequired = %v, want [onnx]", ch.Diff.RestartRequired)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _, _ := watch(t, watcherValidYAML)
	w.Stop()
	w.Stop()
}

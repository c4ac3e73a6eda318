package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

const poolsYAML = `
workflows:
  - id: wf-main
    name: primary
    priority: 1
    enabled: true
    template_uuid: tpl-uuid-1
    workflow_uuid: wf-uuid-1
    slots:
      user_photo: ["19"]
      template_image: ["21"]
  - id: wf-backup
    name: backup
    priority: 2
    enabled: false
    template_uuid: tpl-uuid-2
    workflow_uuid: wf-uuid-2
    slots:
      user_photo: ["19"]
templates:
  male:
    - id: m1
      location: https://cdn.example.com/m1.png
  female:
    - id: f1
      location: https://cdn.example.com/f1.png
    - id: f2
      location: https://cdn.example.com/f2.png
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
poller:
  floor_ms: 500
  max_attempts: 10
store:
  path: /tmp/results.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Poller.FloorMs)
	assert.Equal(t, 10, cfg.Poller.MaxAttempts)
	assert.Equal(t, "/tmp/results.db", cfg.Store.Path)
	// Untouched sections keep defaults.
	assert.Equal(t, Default().Poller.CeilingMs, cfg.Poller.CeilingMs)
	assert.Equal(t, Default().Providers.Gemini.Model, cfg.Providers.Gemini.Model)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "polller:\n  floor_ms: 5\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvertedPollerBounds(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
poller:
  floor_ms: 5000
  ceiling_ms: 1000
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ceiling_ms")
}

func TestLoadPools(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pools.yaml", poolsYAML)

	pools, err := LoadPools(path)
	require.NoError(t, err)

	require.Len(t, pools.Workflows, 2)
	assert.Equal(t, "wf-main", pools.Workflows[0].ID)
	assert.Equal(t, []string{"19"}, pools.Workflows[0].Slots.UserPhoto)
	assert.Len(t, pools.Templates.ForGender(model.GenderFemale), 2)
	assert.Len(t, pools.Templates.ForGender(model.GenderMale), 1)
}

func TestLoadPoolsValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate workflow id", `
workflows:
  - {id: a, enabled: true, template_uuid: t, workflow_uuid: w}
  - {id: a, enabled: true, template_uuid: t, workflow_uuid: w}
`},
		{"missing workflow uuid", `
workflows:
  - {id: a, enabled: true, template_uuid: t}
`},
		{"all workflows disabled", `
workflows:
  - {id: a, enabled: false, template_uuid: t, workflow_uuid: w}
`},
		{"template missing location", `
templates:
  male:
    - {id: m1}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "pools.yaml", tt.yaml)
			_, err := LoadPools(path)
			assert.Error(t, err)
		})
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pools.yaml", poolsYAML)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Run(ctx)

	require.Len(t, w.Pools().Workflows, 2)

	// A broken rewrite must not evict the previous catalog.
	writeFile(t, dir, "pools.yaml", "workflows: [")
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, w.Pools().Workflows, 2)

	extra := `
  - id: wf-extra
    enabled: true
    priority: 3
    template_uuid: tpl-uuid-3
    workflow_uuid: wf-uuid-3
`
	writeFile(t, dir, "pools.yaml", strings.Replace(poolsYAML, "templates:", extra+"templates:", 1))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.Pools().Workflows) == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Len(t, w.Pools().Workflows, 3)
}

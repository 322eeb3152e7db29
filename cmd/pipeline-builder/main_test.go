package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FrancisVarga/stupid-db-sub000/internal/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `apiVersion: v1
kind: SpPipeline
metadata:
  name: ingest
spec:
  steps:
    - id: fetch
      step_order: 0
      agent_name: collector
    - id: summarize
      step_order: 1
      agent_name: summarizer
      input_mapping:
        rows: "${{ steps.fetch.output.rows }}"
    - id: classify
      step_order: 1
      agent_name: classifier
---
apiVersion: v1
kind: SpSchedule
metadata:
  name: ingest-nightly
spec:
  pipeline_name: ingest
  cron_expression: "0 2 * * *"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_NoCommand(t *testing.T) {
	_, stderr, err := runCLI(t)
	require.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr, "usage:")
}

func TestRun_UnknownCommand(t *testing.T) {
	_, _, err := runCLI(t, "draw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"draw"`)
}

func TestRun_Version(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestRun_Layout(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)

	stdout, _, err := runCLI(t, "layout", "-width", "800", path)
	require.NoError(t, err)

	var geoms []layout.Geometry
	require.NoError(t, json.Unmarshal([]byte(stdout), &geoms))
	require.Len(t, geoms, 1)
	assert.Equal(t, "ingest", geoms[0].Title)
	assert.Equal(t, 800.0, geoms[0].Width)
	assert.Len(t, geoms[0].Nodes, 3)
	assert.Len(t, geoms[0].Edges, 2)
}

func TestRun_LayoutMissingPipeline(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)
	_, _, err := runCLI(t, "layout", "-pipeline", "other", path)
	require.Error(t, err)
}

func TestRun_Validate(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)

	stdout, _, err := runCLI(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ingest: ok (0 errors, 0 warnings)")
}

func TestRun_ValidateReportsWarnings(t *testing.T) {
	doc := "apiVersion: v1\nkind: SpPipeline\nmetadata: {name: p}\nspec:\n  steps:\n    - step_order: 0\n      input_mapping:\n        q: \"${{ steps.nowhere.output }}\"\n"
	path := writeFile(t, "m.yaml", doc)

	stdout, _, err := runCLI(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "p: ok (0 errors, 2 warnings)")
	assert.Contains(t, stdout, "NOT_FOUND")
}

func TestRun_ValidateImportErrors(t *testing.T) {
	path := writeFile(t, "m.yaml", "apiVersion: v9\nkind: SpPipeline\nmetadata: {name: p}\n")
	_, _, err := runCLI(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiVersion")
}

func TestRun_Export(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)
	agents := writeFile(t, "agents.yaml", "a-1: collector\na-2: summarizer\n")
	out := filepath.Join(t.TempDir(), "out.yaml")

	_, _, err := runCLI(t, "export", "-agents", agents, "-o", out, path)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "agent_name: collector")
	assert.Contains(t, text, "agent_name: classifier")
	assert.Contains(t, text, "kind: SpSchedule")
	assert.Contains(t, text, "timezone: UTC")
}

func TestRun_ExportMergesFiles(t *testing.T) {
	first := writeFile(t, "a.yaml", testManifest)
	second := writeFile(t, "b.yaml", "apiVersion: v1\nkind: SpSchedule\nmetadata: {name: hourly}\nspec:\n  pipeline_name: ingest\n  cron_expression: \"@hourly\"\n")

	stdout, _, err := runCLI(t, "export", first, second)
	require.NoError(t, err)
	assert.Contains(t, stdout, "name: hourly")
	assert.Contains(t, stdout, "name: ingest-nightly")
}

func TestRun_ExportExternalKindsOnly(t *testing.T) {
	path := writeFile(t, "agents.yaml", "apiVersion: v1\nkind: SpAgent\nmetadata: {name: collector}\nspec: {}\n")

	stdout, _, err := runCLI(t, "export", path)
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestRun_Apply(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)
	cmds := writeFile(t, "cmds.json", `[
		{"op": "add", "agent": "publisher"},
		{"op": "move", "index": 2, "direction": "up"},
		{"op": "rename", "value": "ingest-v2"}
	]`)

	stdout, _, err := runCLI(t, "apply", "-commands", cmds, path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "name: ingest-v2")
	assert.Contains(t, stdout, "agent_name: publisher")
	assert.Contains(t, stdout, "pipeline_name: ingest-v2")
	assert.Less(t, strings.Index(stdout, "classifier"), strings.Index(stdout, "summarizer"))
}

func TestRun_ApplyJSON(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)
	cmds := writeFile(t, "cmds.json", `[{"op": "remove", "index": 0}]`)

	stdout, _, err := runCLI(t, "apply", "-commands", cmds, "-format", "json", path)
	require.NoError(t, err)

	var view struct {
		Changed  bool `json:"changed"`
		Geometry struct {
			Nodes []json.RawMessage `json:"nodes"`
		} `json:"geometry"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	assert.True(t, view.Changed)
	assert.Len(t, view.Geometry.Nodes, 2)
}

func TestRun_ApplyErrors(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)
	bad := writeFile(t, "cmds.json", `[{"op": "remove", "index": 9}]`)

	_, _, err := runCLI(t, "apply", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-commands")

	_, _, err = runCLI(t, "apply", "-commands", bad, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INDEX_OUT_OF_RANGE")
}

func TestRun_Schedule(t *testing.T) {
	path := writeFile(t, "m.yaml", testManifest)

	stdout, _, err := runCLI(t, "schedule", "-n", "2", "-after", "2026-01-01T00:00:00Z", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ingest-nightly -> ingest (0 2 * * *, UTC, enabled)")
	assert.Contains(t, stdout, "2026-01-01T02:00:00Z")
	assert.Contains(t, stdout, "2026-01-02T02:00:00Z")
}

func TestRun_Init(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"init", "-log-level", "debug", "-canvas-width", "1024"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Config written to")

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1024.0, cfg.Layout.CanvasWidth)

	err := run([]string{"init", "-log-level", "shout"}, &stdout, &stderr)
	assert.Error(t, err)
}

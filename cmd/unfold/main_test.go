package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root   string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)
	for _, p := range []string{"work/quarterly_report.xlsx", "work/report_draft.docx", "photos/beach.jpg", "app.log"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
	cfgPath := filepath.Join(t.TempDir(), "unfold.yaml")
	body := "data_dir: " + t.TempDir() + "\nindex:\n  roots: [" + root + "]\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return fixture{root: root, config: cfgPath}
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestIndexThenSearch(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed")

	out, err = f.run(t, "search", "report")
	require.NoError(t, err)
	assert.Contains(t, out, "quarterly_report.xlsx")
	assert.Contains(t, out, "report_draft.docx")
	assert.NotContains(t, out, "beach.jpg")

	out, err = f.run(t, "search", "report", "--ext", "docx")
	require.NoError(t, err)
	assert.NotContains(t, out, "quarterly_report.xlsx")
	assert.Contains(t, out, "report_draft.docx")
}

func TestSearchJSONAndExclusions(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "search", "app", "--json")
	require.NoError(t, err)

	var resp struct {
		Results []struct {
			Record struct {
				Path string `json:"path"`
			} `json:"record"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	for _, r := range resp.Results {
		assert.NotEqual(t, filepath.Join(f.root, "app.log"), r.Record.Path, "log files are excluded by default")
	}
}

func TestSearchKindDirs(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "search", "photos", "--kind", "dirs")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(f.root, "photos")+string(filepath.Separator))

	_, err = f.run(t, "search", "photos", "--kind", "pipes")
	assert.Error(t, err)
}

func TestOpenThenRecentAndFrequent(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.root, "photos", "beach.jpg")

	out, err := f.run(t, "recent")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing opened yet")

	for range 2 {
		_, err := f.run(t, "open", target)
		require.NoError(t, err)
	}

	out, err = f.run(t, "recent")
	require.NoError(t, err)
	assert.Contains(t, out, target)

	out, err = f.run(t, "frequent", "-n", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "2 "), lines[1])

	_, err = f.run(t, "open", filepath.Join(f.root, "missing.txt"))
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Entries:")

	out, err = f.run(t, "stats", "--json")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	// Two directories and three files; app.log is excluded.
	assert.Equal(t, 5.0, st["records"])
}

func TestRootFlagOverridesConfig(t *testing.T) {
	f := newFixture(t)
	other, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(other, "elsewhere.txt"), nil, 0o644))

	out, err := f.run(t, "--root", other, "--data-dir", t.TempDir(), "search", "elsewhere")
	require.NoError(t, err)
	assert.Contains(t, out, "elsewhere.txt")
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceID = "01900000-0000-7000-8000-000000000001"
	bobID   = "01900000-0000-7000-8000-000000000002"
)

const sampleDump = `{"kind":"vertex","id":"` + aliceID + `","type":"person","properties":{"name":"Alice"}}
{"kind":"vertex","id":"` + bobID + `","type":"person"}
{"kind":"edge","outbound_id":"` + aliceID + `","type":"knows","inbound_id":"` + bobID + `","properties":{"since":2020}}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "VertexDB v")
}

func TestBadgerWorkflow(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	dumpFile := filepath.Join(dir, "graph.jsonl")
	require.NoError(t, os.WriteFile(dumpFile, []byte(sampleDump), 0o600))

	out, err := run(t, "import", dumpFile, "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 vertices, 1 edges, 2 properties")

	out, err = run(t, "stats", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "badger")
	assert.Regexp(t, `\|\s*badger\s*\|\s*2\s*\|\s*1\s*\|`, out)

	out, err = run(t, "vertices", "--type", "person", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, aliceID)
	assert.Contains(t, out, bobID)
	assert.Contains(t, out, "2 vertices")

	out, err = run(t, "edges", "--from", aliceID, "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "knows")
	assert.Contains(t, out, "1 outbound edges")

	out, err = run(t, "edges", "--from", aliceID, "--inbound", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "0 inbound edges")

	out, err = run(t, "dump", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"))
	assert.Contains(t, out, `"name":"Alice"`)

	out, err = run(t, "compact", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Compaction finished")

	_, err = run(t, "migrate", "--data-dir", dataDir)
	assert.ErrorContains(t, err, "not supported")
}

func TestSQLiteWorkflow(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "graph.db")

	out, err := run(t, "migrate", "--driver", "sqlite", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "Schema at version 1")

	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetIn(strings.NewReader(sampleDump))
	cmd.SetArgs([]string{"import", "-", "--driver", "sqlite", "--dsn", dsn, "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Imported 2 vertices")

	out, err = run(t, "edges", "--from", bobID, "--inbound", "--driver", "sqlite", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, aliceID)
	assert.Contains(t, out, "1 inbound edges")
}

func TestCommandErrors(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")

	_, err := run(t, "edges", "--from", "not-a-uuid", "--data-dir", dataDir)
	assert.ErrorContains(t, err, "invalid --from id")

	_, err = run(t, "edges", "--data-dir", dataDir)
	assert.Error(t, err)

	_, err = run(t, "vertices", "--type", "bad type", "--data-dir", dataDir)
	assert.Error(t, err)

	_, err = run(t, "stats", "--backend", "cassandra")
	assert.ErrorContains(t, err, "configuration error")

	_, err = run(t, "import", filepath.Join(t.TempDir(), "missing.jsonl"), "--backend", "memory")
	assert.Error(t, err)
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "vertexdb.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("storage:\n  backend: memory\n  data_dir: /from/file\n"), 0o600))

	flags := &globalFlags{}
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgFile, "--data-dir", "/from/flag"}))

	flags.configFile, _ = cmd.Flags().GetString("config")
	flags.dataDir, _ = cmd.Flags().GetString("data-dir")
	cfg, err := flags.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "/from/flag", cfg.Storage.DataDir)
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/strata/pkg/types"
)

const eventRows = `{"id": 1, "level": "info", "msg": "started"}
{"id": 2, "level": "error", "msg": "disk full"}

{"id": 3, "level": "info", "msg": "retrying"}
`

// run executes one strata invocation against the local state in dir.
func run(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--data-dir", dir, "--storage", "local", "--catalog", "sqlite", "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustRun(t *testing.T, dir, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, stdin, args...)
	require.NoError(t, err, "strata %s", strings.Join(args, " "))
	return out
}

func createEvents(t *testing.T, dir string) {
	t.Helper()
	mustRun(t, dir, "", "table", "create", "events",
		"--column", "id:long:required", "--column", "level:string", "--column", "msg:string",
		"--partition", "level")
}

func scanRows(t *testing.T, dir string, args ...string) []map[string]any {
	t.Helper()
	out := mustRun(t, dir, "", append([]string{"scan", "events"}, args...)...)
	var rows []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var row map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &row), line)
		rows = append(rows, row)
	}
	return rows
}

type snapshotsOutput struct {
	CurrentSnapshotID *int64 `json:"current-snapshot-id"`
	Snapshots         []struct {
		SnapshotID int64 `json:"snapshot-id"`
	} `json:"snapshots"`
}

func snapshots(t *testing.T, dir string) snapshotsOutput {
	t.Helper()
	var s snapshotsOutput
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dir, "", "snapshots", "events", "--json")), &s))
	return s
}

func TestParseColumns(t *testing.T) {
	sch, err := parseColumns([]string{"id:long:required", "ts:timestamptz", "price:double"})
	require.NoError(t, err)
	require.Len(t, sch.Fields, 3)
	assert.True(t, sch.Fields[0].Required)
	assert.Equal(t, types.Long, sch.Fields[0].Type)
	assert.False(t, sch.Fields[1].Required)

	for _, bad := range []string{"id", "id:nope", "id:long:optional", ":long"} {
		_, err := parseColumns([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParsePartitions(t *testing.T) {
	sch, err := parseColumns([]string{"id:long", "ts:timestamp", "level:string"})
	require.NoError(t, err)

	spec, err := parsePartitions(sch, []string{"level", "ts:day", "id:bucket[16]", "level:truncate[2]:lvl"})
	require.NoError(t, err)
	var names []string
	for _, f := range spec.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"level", "ts_day", "id_bucket_16", "lvl"}, names)

	_, err = parsePartitions(sch, []string{"missing"})
	assert.Error(t, err)
	_, err = parsePartitions(sch, []string{"id:bucket[0]"})
	assert.Error(t, err)

	spec, err = parsePartitions(sch, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestReadRows(t *testing.T) {
	rows, err := readRows(strings.NewReader(eventRows))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, json.Number("2"), rows[1]["id"])

	_, err = readRows(strings.NewReader("{\"id\": 1}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseTimestamp(t *testing.T) {
	ms, err := parseTimestamp("1700000000000")
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000000, ms)

	ms, err = parseTimestamp("2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.EqualValues(t, 1704067200000, ms)

	_, err = parseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTableCommands(t *testing.T) {
	dir := t.TempDir()
	createEvents(t, dir)

	_, err := run(t, dir, "", "table", "create", "events", "--column", "id:long")
	require.Error(t, err)

	out := mustRun(t, dir, "", "table", "list")
	assert.Equal(t, "default.events\n", out)

	out = mustRun(t, dir, "", "table", "describe", "default.events")
	assert.Contains(t, out, "Current snapshot:  -")
	assert.Contains(t, out, "level")
	assert.Contains(t, out, "identity")

	mustRun(t, dir, "", "table", "drop", "events")
	out = mustRun(t, dir, "", "table", "list")
	assert.Empty(t, out)

	_, err = run(t, dir, "", "scan", "events")
	require.Error(t, err)
}

func TestWriteAndScan(t *testing.T) {
	dir := t.TempDir()
	createEvents(t, dir)

	out := mustRun(t, dir, eventRows, "append", "events")
	assert.Contains(t, out, "(append)")
	assert.Contains(t, out, "3 records")

	rows := scanRows(t, dir)
	assert.Len(t, rows, 3)

	rows = scanRows(t, dir, "--filter", "level = 'error'", "--columns", "id,msg")
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"id": float64(2), "msg": "disk full"}, rows[0])

	assert.Len(t, scanRows(t, dir, "--limit", "2"), 2)

	out = mustRun(t, dir, "", "scan", "events", "--filter", "id = 3", "--format", "table", "--columns", "id,level")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"ID", "LEVEL"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"3", "info"}, strings.Fields(lines[1]))

	_, err := run(t, dir, "", "scan", "events", "--filter", "id = ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter")
	_, err = run(t, dir, "", "scan", "events", "--format", "xml")
	require.Error(t, err)

	mustRun(t, dir, "", "delete", "events", "--filter", "level = 'info' AND id = 1")
	rows = scanRows(t, dir)
	assert.Len(t, rows, 2)

	mustRun(t, dir, `{"id": 20, "level": "error", "msg": "replaced"}`, "overwrite", "events", "--filter", "level = 'error'")
	rows = scanRows(t, dir, "--filter", "level = 'error'")
	require.Len(t, rows, 1)
	assert.Equal(t, "replaced", rows[0]["msg"])

	out = mustRun(t, dir, "", "snapshots", "events")
	lines = strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[3], "main")

	_, err = run(t, dir, "", "append", "events")
	require.Error(t, err)
}

func TestSchemaEvolution(t *testing.T) {
	dir := t.TempDir()
	createEvents(t, dir)
	mustRun(t, dir, eventRows, "append", "events")

	out := mustRun(t, dir, "", "add-column", "events", "host", "string")
	assert.Contains(t, out, "host")
	mustRun(t, dir, "", "rename-column", "events", "msg", "message")
	mustRun(t, dir, `{"id": 4, "level": "warn", "message": "slow", "host": "a"}`, "append", "events")

	rows := scanRows(t, dir, "--filter", "id < 3")
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Contains(t, r, "message")
		assert.Nil(t, r["host"])
	}
	rows = scanRows(t, dir, "--filter", "host = 'a'")
	require.Len(t, rows, 1)
	assert.Equal(t, "slow", rows[0]["message"])

	mustRun(t, dir, "", "drop-column", "events", "host")
	rows = scanRows(t, dir, "--filter", "id = 4")
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "host")

	_, err := run(t, dir, "", "drop-column", "events", "nope")
	require.Error(t, err)
}

func TestRefsAndRollback(t *testing.T) {
	dir := t.TempDir()
	createEvents(t, dir)
	mustRun(t, dir, eventRows, "append", "events")
	first := snapshots(t, dir).CurrentSnapshotID
	require.NotNil(t, first)

	mustRun(t, dir, "", "tag", "events", "v1")
	mustRun(t, dir, "", "branch", "events", "audit")
	mustRun(t, dir, `{"id": 9, "level": "debug", "msg": "audit only"}`, "append", "events", "--branch", "audit")

	assert.Len(t, scanRows(t, dir), 3)
	assert.Len(t, scanRows(t, dir, "--ref", "audit"), 4)

	mustRun(t, dir, `{"id": 5, "level": "info", "msg": "later"}`, "append", "events")
	assert.Len(t, scanRows(t, dir), 4)
	assert.Len(t, scanRows(t, dir, "--ref", "v1"), 3)
	assert.Len(t, scanRows(t, dir, "--snapshot", strconv.FormatInt(*first, 10)), 3)

	out := mustRun(t, dir, "", "rollback", "events", "--to-snapshot", strconv.FormatInt(*first, 10))
	assert.Contains(t, out, strconv.FormatInt(*first, 10))
	assert.Len(t, scanRows(t, dir), 3)

	_, err := run(t, dir, "", "rollback", "events")
	require.Error(t, err)

	mustRun(t, dir, "", "tag", "events", "v1", "--delete")
	_, err = run(t, dir, "", "scan", "events", "--ref", "v1")
	require.Error(t, err)
}

func TestExpireAndOrphans(t *testing.T) {
	dir := t.TempDir()
	createEvents(t, dir)
	for i := 0; i < 3; i++ {
		mustRun(t, dir, eventRows, "append", "events")
	}
	mustRun(t, dir, "", "overwrite", "events", "--filter", "id > 0", "-f", "-")
	require.Len(t, snapshots(t, dir).Snapshots, 4)

	out := mustRun(t, dir, "", "expire", "events", "--older-than", "1ns", "--retain-last", "1")
	assert.Contains(t, out, "Expired 3 snapshots")
	assert.Contains(t, out, "Deleted 6 data files")
	require.Len(t, snapshots(t, dir).Snapshots, 1)
	assert.Empty(t, scanRows(t, dir))

	out = mustRun(t, dir, "", "expire", "events", "--older-than", "1ns", "--retain-last", "1")
	assert.Contains(t, out, "Expired 0 snapshots")

	stray := filepath.Join(dir, "storage", "warehouse", "default", "events", "data", "stray.parquet")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0o755))
	require.NoError(t, os.WriteFile(stray, []byte("junk"), 0o644))

	out = mustRun(t, dir, "", "orphans", "events")
	assert.NotContains(t, out, "stray.parquet")
	out = mustRun(t, dir, "", "orphans", "events", "--older-than", "0s")
	assert.Contains(t, out, "stray.parquet")
	out = mustRun(t, dir, "", "orphans", "events", "--older-than", "0s", "--delete")
	assert.Contains(t, out, "Deleted")
	_, err := os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestCompact(t *testing.T) {
	dir := t.TempDir()
	createEvents(t, dir)
	for i := 0; i < 3; i++ {
		mustRun(t, dir, eventRows, "append", "events")
	}

	out := mustRun(t, dir, "", "compact", "events", "--min-files", "2", "--dry-run")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines[1:] {
		assert.Equal(t, "3", strings.Fields(l)[1])
	}

	out = mustRun(t, dir, "", "compact", "events", "--min-files", "2")
	assert.Contains(t, out, "2 bins, 6 files rewritten into 2")
	assert.Len(t, scanRows(t, dir), 9)
	assert.Len(t, scanRows(t, dir, "--filter", "level = 'error'"), 3)

	out = mustRun(t, dir, "", "compact", "events", "--min-files", "2")
	assert.Contains(t, out, "0 bins")
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitragupta/internal/kaala"
	"chitragupta/internal/types"
	"chitragupta/internal/vidhi"
)

var (
	_ kaala.Persister = (*Store)(nil)
	_ vidhi.Storage   = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHeartbeatRoundTrip(t *testing.T) {
	s := openTestStore(t)

	// Millisecond-precision times so the round trip compares exactly.
	now := time.UnixMilli(1_750_000_000_000)
	hb := kaala.Heartbeat{
		AgentID:     "root",
		Depth:       0,
		Purpose:     "orchestrate the build",
		StartedAt:   now,
		LastBeat:    now.Add(5 * time.Second),
		TurnCount:   7,
		TokenUsage:  12_345,
		TokenBudget: 200_000,
		Status:      types.StatusAlive,
	}
	require.NoError(t, s.SaveHeartbeat(hb))

	child := hb
	child.AgentID = "child"
	child.ParentID = "root"
	child.Depth = 1
	child.Status = types.StatusStale
	require.NoError(t, s.SaveHeartbeat(child))

	loaded, err := s.LoadHeartbeats()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// Ordered by depth, so the root comes first.
	assert.Equal(t, hb, loaded[0])
	assert.Equal(t, child, loaded[1])

	// Upsert refreshes in place.
	hb.Status = types.StatusCompleted
	hb.TurnCount = 9
	require.NoError(t, s.SaveHeartbeat(hb))
	loaded, err = s.LoadHeartbeats()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, types.StatusCompleted, loaded[0].Status)
	assert.Equal(t, 9, loaded[0].TurnCount)

	require.NoError(t, s.DeleteHeartbeat("child"))
	loaded, err = s.LoadHeartbeats()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func sampleVidhi() vidhi.Vidhi {
	v := vidhi.Vidhi{
		ID:      "vidhi-00000000deadbeef",
		Project: "webapp",
		Name:    "read_file -> edit_file",
		Steps: []vidhi.VidhiStep{
			{Index: 0, Tool: "read_file", ArgTemplate: map[string]interface{}{"path": "${param_path}", "encoding": "utf-8"}, Description: "call read_file", Critical: true},
			{Index: 1, Tool: "edit_file", ArgTemplate: map[string]interface{}{"path": "${param_path}"}, Description: "call edit_file", Critical: true},
		},
		Triggers: []string{"fix error handling", "read handler"},
		ParameterSchema: map[string]vidhi.VidhiParam{
			"param_path": {Name: "param_path", Type: "string", Required: true, Examples: []interface{}{"a.go", "b.go"}},
		},
		LearnedFrom:  []string{"session-1", "session-2", "session-3"},
		Confidence:   0.8,
		SuccessCount: 2,
		FailureCount: 1,
		SuccessRate:  0.6,
	}
	v.CreatedAt = 1_750_000_000_000
	v.UpdatedAt = 1_750_000_100_000
	return v
}

func TestVidhiRoundTrip(t *testing.T) {
	s := openTestStore(t)
	want := sampleVidhi()
	require.NoError(t, s.SaveVidhi(want))

	loaded, err := s.LoadVidhis("webapp")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, want, loaded[0])

	// Project filter.
	other, err := s.LoadVidhis("elsewhere")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.DeleteVidhi(want.ID))
	loaded, err = s.LoadVidhis("webapp")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadVidhisSkipsMalformedRows(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveVidhi(sampleVidhi()))

	// Corrupt row alongside the good one.
	_, err := s.db.Exec(`
		INSERT INTO vidhis (id, project, name, steps_json, triggers_json,
			parameter_schema_json, learned_from_json, confidence,
			success_count, failure_count, success_rate, created_at, updated_at)
		VALUES ('vidhi-bad', 'webapp', 'broken', 'not json', '[]', '{}', '[]',
			0.5, 0, 0, 0.5, 0, 0)`)
	require.NoError(t, err)

	loaded, err := s.LoadVidhis("webapp")
	require.NoError(t, err)
	require.Len(t, loaded, 1, "the corrupt row must be skipped, not fatal")
	assert.Equal(t, "vidhi-00000000deadbeef", loaded[0].ID)
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	session := types.Session{
		ID:      "session-1",
		Project: "webapp",
		Turns: []types.SessionTurn{
			{Role: types.RoleUser, Content: "read the config"},
			{Role: types.RoleAssistant, ToolCalls: []types.SessionToolCall{
				{Name: "read_file", Input: map[string]interface{}{"path": "config.yaml"}},
			}},
		},
	}
	require.NoError(t, s.SaveSession(session))
	require.NoError(t, s.SaveSession(types.Session{ID: "session-2", Project: "other"}))

	loaded, err := s.LoadSessions("webapp")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, session, loaded[0])
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveVidhi(sampleVidhi()))
	require.NoError(t, s.Close())

	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()
	loaded, err := s2.LoadVidhis("webapp")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

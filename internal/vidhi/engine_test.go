package vidhi

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitragupta/internal/types"
)

// memStore is an in-memory Storage for engine tests.
type memStore struct {
	mu       sync.Mutex
	vidhis   map[string]Vidhi
	sessions []types.Session
}

func newMemStore() *memStore {
	return &memStore{vidhis: make(map[string]Vidhi)}
}

func (s *memStore) SaveVidhi(v Vidhi) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vidhis[v.ID] = v
	return nil
}

func (s *memStore) DeleteVidhi(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vidhis, id)
	return nil
}

func (s *memStore) LoadVidhis(project string) ([]Vidhi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Vidhi
	for _, v := range s.vidhis {
		if v.Project == project {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memStore) LoadSessions(project string) ([]types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Session(nil), s.sessions...), nil
}

// readEditSession records "read a file then edit it" with a per-session path.
func readEditSession(n int) types.Session {
	path := fmt.Sprintf("src/handler_%d.go", n)
	return types.Session{
		ID:      fmt.Sprintf("session-%d", n),
		Project: "webapp",
		Turns: []types.SessionTurn{
			{Role: types.RoleUser, Content: "read the handler file and fix the error handling"},
			{Role: types.RoleAssistant, ToolCalls: []types.SessionToolCall{
				{Name: "read_file", Input: map[string]interface{}{"path": path, "encoding": "utf-8"}},
				{Name: "edit_file", Input: map[string]interface{}{"path": path, "content": fmt.Sprintf("patched-%d", n)}},
			}},
		},
	}
}

func newTestEngine(store *memStore) *Engine {
	clock := &types.FakeClock{Current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewEngine("webapp", DefaultConfig(), store, clock)
}

var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z0-9_]+)\}`)

// requireSchemaClosed asserts every placeholder has a schema entry.
func requireSchemaClosed(t *testing.T, v Vidhi) {
	t.Helper()
	for _, step := range v.Steps {
		for _, val := range step.ArgTemplate {
			s, ok := val.(string)
			if !ok {
				continue
			}
			for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
				_, exists := v.ParameterSchema[m[1]]
				require.True(t, exists, "placeholder %s missing from schema", m[1])
			}
		}
	}
}

func TestExtractFourSessionReadEdit(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.sessions = append(store.sessions, readEditSession(i))
	}
	e := newTestEngine(store)

	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewVidhis)
	assert.Equal(t, 0, res.Reinforced)
	assert.Equal(t, 4, res.TotalSequencesAnalyzed)

	vidhis := e.GetVidhis(0)
	require.Len(t, vidhis, 1)
	v := vidhis[0]

	require.Len(t, v.Steps, 2)
	assert.Equal(t, "read_file", v.Steps[0].Tool)
	assert.Equal(t, "edit_file", v.Steps[1].Tool)
	for i, step := range v.Steps {
		assert.Equal(t, i, step.Index)
		assert.True(t, step.Critical)
		assert.NotEmpty(t, step.Description)
	}

	// Constant argument stays literal, varying argument becomes a parameter.
	assert.Equal(t, "utf-8", v.Steps[0].ArgTemplate["encoding"])
	assert.Equal(t, "${param_path}", v.Steps[0].ArgTemplate["path"])
	assert.Equal(t, "${param_path}", v.Steps[1].ArgTemplate["path"])

	assert.Len(t, v.LearnedFrom, 4)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
	assert.InDelta(t, 0.5, v.SuccessRate, 1e-9) // Beta(1,1) prior mean

	param, ok := v.ParameterSchema["param_path"]
	require.True(t, ok)
	assert.Equal(t, "param_path", param.Name)
	assert.Equal(t, "string", param.Type)
	assert.True(t, param.Required)
	assert.Len(t, param.Examples, 4)
	requireSchemaClosed(t, v)
}

func TestExtractReinforcesExisting(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.sessions = append(store.sessions, readEditSession(i))
	}
	e := newTestEngine(store)

	_, err := e.Extract(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	store.sessions = append(store.sessions, readEditSession(5))
	store.mu.Unlock()

	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewVidhis)
	assert.Equal(t, 1, res.Reinforced)

	v := e.GetVidhis(0)[0]
	assert.Len(t, v.LearnedFrom, 5)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9) // 0.5 + 0.1*5
}

func TestExtractBelowMinSessions(t *testing.T) {
	store := newMemStore()
	store.sessions = append(store.sessions, readEditSession(1), readEditSession(2))
	e := newTestEngine(store)

	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewVidhis)
	assert.Empty(t, e.GetVidhis(0))
}

func TestExtractSkipsErrorWindows(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		s := readEditSession(i)
		s.Turns[1].ToolCalls[0].IsError = true
		store.sessions = append(store.sessions, s)
	}
	e := newTestEngine(store)

	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalSequencesAnalyzed)
	assert.Empty(t, e.GetVidhis(0))
}

func TestMatchJaccardGating(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.sessions = append(store.sessions, readEditSession(i))
	}
	e := newTestEngine(store)
	_, err := e.Extract(context.Background())
	require.NoError(t, err)

	hit := e.Match("fix the error handling in the handler")
	require.NotNil(t, hit)
	assert.Equal(t, "read_file -> edit_file", hit.Name)

	assert.Nil(t, e.Match("deploy the website to production"), "no trigger overlap must not match")
	assert.Nil(t, e.Match("the of and to"), "stop-word-only query must not match")
	assert.Nil(t, e.Match(""), "empty query must not match")
}

func TestRecordOutcome(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.sessions = append(store.sessions, readEditSession(i))
	}
	e := newTestEngine(store)
	_, err := e.Extract(context.Background())
	require.NoError(t, err)
	id := e.GetVidhis(0)[0].ID

	e.RecordOutcome(id, true)
	e.RecordOutcome(id, true)
	e.RecordOutcome(id, false)

	v, ok := e.GetVidhi(id)
	require.True(t, ok)
	assert.Equal(t, 2, v.SuccessCount)
	assert.Equal(t, 1, v.FailureCount)
	assert.InDelta(t, 3.0/5.0, v.SuccessRate, 1e-9) // (2+1)/(2+1+2)

	e.RecordOutcome("vidhi-does-not-exist", true) // must not panic or create
	_, ok = e.GetVidhi("vidhi-does-not-exist")
	assert.False(t, ok)
}

func TestPersistLoadAllRoundTrip(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.sessions = append(store.sessions, readEditSession(i))
	}
	first := newTestEngine(store)
	_, err := first.Extract(context.Background())
	require.NoError(t, err)
	want := first.GetVidhis(0)[0]

	second := newTestEngine(store)
	require.NoError(t, second.LoadAll())
	got, ok := second.GetVidhi(want.ID)
	require.True(t, ok)
	assert.Equal(t, want.Steps, got.Steps)
	assert.Equal(t, want.Triggers, got.Triggers)
	assert.Equal(t, want.LearnedFrom, got.LearnedFrom)
	assert.Equal(t, want.Confidence, got.Confidence)
}

func TestRetire(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.sessions = append(store.sessions, readEditSession(i))
	}
	e := newTestEngine(store)
	_, err := e.Extract(context.Background())
	require.NoError(t, err)
	id := e.GetVidhis(0)[0].ID

	require.NoError(t, e.Retire(id))
	_, ok := e.GetVidhi(id)
	assert.False(t, ok)
	loaded, err := store.LoadVidhis("webapp")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, e.Retire(id)) // second retire no-ops
}

func TestGetVidhisThompsonRanking(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	strong := Vidhi{ID: "v-strong", Project: "webapp", Name: "strong", SuccessCount: 200}
	weak := Vidhi{ID: "v-weak", Project: "webapp", Name: "weak", FailureCount: 200}
	strong.refreshSuccessRate()
	weak.refreshSuccessRate()
	require.NoError(t, e.Persist(strong))
	require.NoError(t, e.Persist(weak))

	// Beta(201,1) draws dominate Beta(1,201) draws overwhelmingly.
	top := e.GetVidhis(1)
	require.Len(t, top, 1)
	assert.Equal(t, "v-strong", top[0].ID)
}

func TestSampleBetaBounds(t *testing.T) {
	e := newTestEngine(newMemStore())
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < 1000; i++ {
		u := e.sampleBeta(3, 7)
		require.GreaterOrEqual(t, u, 0.0)
		require.LessOrEqual(t, u, 1.0)
	}
}

package cli

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/checkpoint"
	"github.com/wwwzy/EstateAgent/internal/config"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

func testStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "cli.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type countingEmbedder struct {
	mu      sync.Mutex
	batches []int
	fail    bool
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()
	if e.fail {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) Name() string { return "counting" }

type recordingEmbeddings struct {
	mu   sync.Mutex
	vecs map[uint64][]float32
}

func (r *recordingEmbeddings) SetProjectEmbedding(_ context.Context, id uint64, vec []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vecs[id] = vec
	return nil
}

func TestEmbedProjects_Batches(t *testing.T) {
	projects := make([]storage.Project, 70)
	for i := range projects {
		projects[i] = storage.Project{ID: uint64(i + 1), Name: "P"}
	}
	eng := &countingEmbedder{}
	rec := &recordingEmbeddings{vecs: map[uint64][]float32{}}

	n, err := embedProjects(context.Background(), eng, rec, projects)
	require.NoError(t, err)
	assert.Equal(t, 70, n)
	assert.ElementsMatch(t, []int{32, 32, 6}, eng.batches)
	assert.Len(t, rec.vecs, 70)
	assert.Equal(t, []float32{1, 1}, rec.vecs[70])
}

func TestEmbedProjects_Failure(t *testing.T) {
	eng := &countingEmbedder{fail: true}
	rec := &recordingEmbeddings{vecs: map[uint64][]float32{}}
	_, err := embedProjects(context.Background(), eng, rec, []storage.Project{{ID: 1, Name: "P"}})
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Empty(t, rec.vecs)
}

func TestEmbedProjects_PersistsToStore(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	projects, _, err := store.ImportDataset(ctx, &storage.Dataset{Projects: []storage.SeedProject{
		{Name: "Palm Hills", Location: "New Cairo", MinPrice: 1, MaxPrice: 2, Description: "golf"},
	}})
	require.NoError(t, err)

	_, err = embedProjects(ctx, &countingEmbedder{}, store, projects)
	require.NoError(t, err)

	withVec, err := store.ProjectsWithEmbeddings(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, withVec, 1)
	assert.Equal(t, []float32{float32(len("Palm Hills. New Cairo. golf")), 1}, withVec[0].Embedding)
}

func TestEmbeddingText(t *testing.T) {
	p := storage.Project{Name: "Zed", LocationName: " Sheikh Zayed ", Description: "towers"}
	assert.Equal(t, "Zed. Sheikh Zayed. towers", embeddingText(p))
}

func TestOpenCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	s, closer, err := openCheckpointStore(ctx, config.CheckpointConfig{Driver: "memory"}, store)
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &checkpoint.MemoryStore{}, s)

	s, _, err = openCheckpointStore(ctx, config.CheckpointConfig{}, store)
	require.NoError(t, err)
	assert.IsType(t, &checkpoint.SQLiteStore{}, s)

	_, _, err = openCheckpointStore(ctx, config.CheckpointConfig{Driver: "redis"}, store)
	assert.ErrorContains(t, err, "redis")
}

func TestResolveUser(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	u := &storage.User{Email: "amr@example.com"}
	require.NoError(t, store.CreateUser(ctx, u))

	got, err := resolveUser(ctx, store, " AMR@example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = resolveUser(ctx, store, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ThreadID, got.ThreadID)

	_, err = resolveUser(ctx, store, "")
	assert.Error(t, err)
	_, err = resolveUser(ctx, store, "ghost@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProfileUpdateFromFlags_OnlyChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addProfileFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--budget", "3000000", "--locations", "New Cairo,Sheikh Zayed"}))

	up := profileUpdateFromFlags(cmd)
	require.NotNil(t, up.AverageBudget)
	assert.Equal(t, int64(3_000_000), *up.AverageBudget)
	require.NotNil(t, up.PreferredLocations)
	assert.Equal(t, []string{"New Cairo", "Sheikh Zayed"}, *up.PreferredLocations)
	assert.Nil(t, up.Name)
	assert.Nil(t, up.FamilySize)
	assert.Nil(t, up.IsInvestor)
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "[user] hi", formatMessage(schema.UserMessage("hi")))
	assert.Equal(t, "[assistant] hello", formatMessage(schema.AssistantMessage("hello", nil)))
	call := schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "google_maps_link_tool", Arguments: `{"project_name":"Zed"}`}}})
	assert.Equal(t, `[assistant → tools] google_maps_link_tool({"project_name":"Zed"})`, formatMessage(call))
	assert.Equal(t, "[tool c1] ok", formatMessage(schema.ToolMessage("ok", "c1")))
}

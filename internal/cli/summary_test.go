package cli

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statesync/internal/state"
	"github.com/roach88/statesync/internal/store"
)

// fileStoreConfig writes a config selecting a file backend in a fresh
// directory and returns the config path and an open Store on that directory.
func fileStoreConfig(t *testing.T) (string, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	dataDir := t.TempDir()
	cfgPath := writeFile(t, dir, "statesync.yaml", fmt.Sprintf("storage:\n  backend: file\n  dir: %q\n", dataDir))

	b, err := store.NewFileBackend(dataDir)
	require.NoError(t, err)
	st := store.New(b)
	t.Cleanup(func() { st.Close() })
	return cfgPath, st
}

func TestSummaryNoClients(t *testing.T) {
	cfgPath, _ := fileStoreConfig(t)

	out, err := executeCommand(t, "", "-c", cfgPath, "summary")
	require.NoError(t, err)
	assert.Equal(t, "No clients.\n", out)
}

func TestSummaryListsClients(t *testing.T) {
	cfgPath, st := fileStoreConfig(t)
	ctx := context.Background()
	for _, id := range []string{"bob", "alice"} {
		require.NoError(t, st.Write(ctx, id, state.NewStore(id)))
	}

	out, err := executeCommand(t, "", "-c", cfgPath, "--format", "json", "summary")
	require.NoError(t, err)

	var clients []string
	decodeResponse(t, out, &clients)
	assert.ElementsMatch(t, []string{"alice", "bob"}, clients)
}

func TestSummaryForClient(t *testing.T) {
	cfgPath, st := fileStoreConfig(t)
	ctx := context.Background()

	doc := state.NewStore("alice")
	require.NoError(t, doc.Upsert(state.Characters, state.Entity{"id": "c1", "name": "Aria"}))
	require.NoError(t, doc.Upsert(state.Rooms, state.Entity{"id": "r1"}))
	require.NoError(t, doc.Delete(state.Rooms, "r1"))
	require.NoError(t, st.Write(ctx, "alice", doc))

	out, err := executeCommand(t, "", "-c", cfgPath, "--format", "json", "summary", "alice")
	require.NoError(t, err)

	var cs map[string]any
	decodeResponse(t, out, &cs)
	assert.Equal(t, "alice", cs["clientId"])
	assert.Equal(t, "existing", cs["origin"])
	assert.Equal(t, map[string]any{"characters": 1.0, "rooms": 0.0, "messages": 0.0}, cs["counts"])

	summary := cs["summary"].(map[string]any)
	chars := summary["characters"].(map[string]any)
	assert.Equal(t, state.BuildSummary(doc, "alice").Characters.Hashes["c1"], chars["hashes"].(map[string]any)["c1"])
	rooms := summary["rooms"].(map[string]any)
	assert.Equal(t, []any{"r1"}, rooms["deleted"])
}

func TestSummaryTextForClient(t *testing.T) {
	cfgPath, st := fileStoreConfig(t)
	doc := state.NewStore("alice")
	require.NoError(t, doc.Upsert(state.Messages, state.Entity{"id": "m1", "text": "hi"}))
	require.NoError(t, st.Write(context.Background(), "alice", doc))

	out, err := executeCommand(t, "", "-c", cfgPath, "summary", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Client alice (existing)")
	assert.Contains(t, out, "messages   1 live, 0 deleted")
	assert.Contains(t, out, `"hashes"`)
}

func TestSummaryUnknownClientIsFresh(t *testing.T) {
	cfgPath, _ := fileStoreConfig(t)

	out, err := executeCommand(t, "", "-c", cfgPath, "summary", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "Client nobody (fresh)")
}

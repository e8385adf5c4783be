package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldsplit/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.jsonl")
	sink := NewJsonlStorage(path)
	ctx := context.Background()

	require.NoError(t, sink.PutResults(ctx, []model.Result{
		{ID: "a", Op: model.OpTokenize, Time: 1, OK: true, Outputs: map[string]string{"minted": "5"}},
	}))
	require.NoError(t, sink.PutResults(ctx, nil))
	require.NoError(t, sink.PutResults(ctx, []model.Result{
		{ID: "b", Op: model.OpSwapExactIn, Time: 2, ErrorKind: "Slippage", Error: "slippage limit exceeded"},
	}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var got []model.Result
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r model.Result
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		got = append(got, r)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "5", got[0].Outputs["minted"])
	assert.Equal(t, "Slippage", got[1].ErrorKind)
	assert.False(t, got[1].OK)
}

func TestReadOperations(t *testing.T) {
	input := strings.Join([]string{
		`# scenario`,
		`{"op":"new_series","time":0,"asset":"0xdddddddddddddddddddddddddddddddddddddddd","expiry":100}`,
		``,
		`{"op":"tokenize","time":5,"amount":"10"}`,
	}, "\n")

	var lines []int
	var ops []string
	err := ReadOperations(strings.NewReader(input), func(line int, op model.Operation) error {
		lines = append(lines, line)
		ops = append(ops, op.Op)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, lines)
	assert.Equal(t, []string{model.OpNewSeries, model.OpTokenize}, ops)
}

func TestReadOperationsStops(t *testing.T) {
	err := ReadOperations(strings.NewReader("{\"op\":\"fund\"}\nnot json\n"), func(int, model.Operation) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	stop := errors.New("stop")
	err = ReadOperations(strings.NewReader("{\"op\":\"fund\"}\n{\"op\":\"fund\"}\n"), func(int, model.Operation) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
}

func TestFileStateStore(t *testing.T) {
	ctx := context.Background()
	store := &FileStateStore{Path: filepath.Join(t.TempDir(), "state", "engine.json")}

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snapshot := []byte(`{"version":1,"applied":3}`)
	require.NoError(t, store.Save(ctx, snapshot))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(snapshot), string(got))

	var empty *FileStateStore
	_, ok, err = empty.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, empty.Save(ctx, snapshot))
}

func TestFileStateStoreFallsBackToPrevious(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.json")
	store := &FileStateStore{Path: path}

	first := []byte(`{"version":1,"applied":1}`)
	second := []byte(`{"version":1,"applied":2}`)
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(second), string(got))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(body), `"applied":2`, `"applied":9`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	got, ok, err = store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(first), string(got))

	require.NoError(t, os.Remove(path+".prev"))
	_, _, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrSnapshotChecksum)
}

func TestFileStateStoreRejectsInvalidSnapshot(t *testing.T) {
	store := &FileStateStore{Path: filepath.Join(t.TempDir(), "engine.json")}
	assert.Error(t, store.Save(context.Background(), []byte(`{"applied":`)))
}

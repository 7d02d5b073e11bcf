// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := s.Add(ctx, Record{
		Path: "a.step", Kernel: "native", Outcome: OutcomeSuccess,
		Volume: 1, ObjectCount: 1, RecordedAt: base,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)

	_, err = s.Add(ctx, Record{
		Path: "b.step", Kernel: "freecad", Outcome: "ImportFailed",
		Error: "Failed to import STEP file: bad header", RecordedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b.step", all[0].Path)
	assert.Equal(t, "ImportFailed", all[0].Outcome)
	assert.Equal(t, "Failed to import STEP file: bad header", all[0].Error)
	assert.Equal(t, "a.step", all[1].Path)
	assert.Equal(t, 1.0, all[1].Volume)
	assert.True(t, base.Equal(all[1].RecordedAt))

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b.step", limited[0].Path)
}

func TestAddStampsTime(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	rec, err := s.Add(context.Background(), Record{Path: "x.step", Kernel: "native", Outcome: OutcomeSuccess})
	require.NoError(t, err)
	assert.True(t, fixed.Equal(rec.RecordedAt))
}

func TestOpenReusesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Add(context.Background(), Record{Path: "x.step", Kernel: "native", Outcome: OutcomeSuccess})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	records, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestExport(t *testing.T) {
	records := []Record{{
		ID: 7, Path: "part.step", Kernel: "native", Outcome: OutcomeSuccess,
		Volume: 2.5, ObjectCount: 2, RecordedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Export(&buf, records, FormatJSON))
		var got []Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "part.step", got[0].Path)
		assert.NotContains(t, buf.String(), `"error"`)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Export(&buf, records, FormatYAML))
		var got []map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, 2.5, got[0]["volume"])
		assert.Equal(t, 2, got[0]["object_count"])
	})

	t.Run("empty json is an array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Export(&buf, nil, FormatJSON))
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("unknown format", func(t *testing.T) {
		err := Export(&bytes.Buffer{}, records, "csv")
		assert.ErrorContains(t, err, "unknown export format")
	})
}

func TestFileDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.step")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	got, err := FileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)

	_, err = FileDigest(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

func newTestStore(t *testing.T, delimiter string) *Store {
	t.Helper()
	store, err := New(Config{Dir: t.TempDir(), Delimiter: delimiter}, nil)
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "\t")
	chunk := scan.Chunk{Begin: 28220, End: 28223}
	records := []scan.Record{
		scan.NewRecord(28220, "Made in Abyss", ""),
		scan.NewRecord(28221, "tab\tinside", ""),
		scan.NewRecord(28222, "multi\nline \"quoted\" 魔法少女", ""),
	}

	path, err := store.Write(context.Background(), chunk, records)
	require.NoError(t, err)
	assert.Equal(t, "data_28220_28223.tmp", filepath.Base(path))

	got, err := store.Read(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestStoreRoundTripMultiCharDelimiter(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, " | ")
	chunk := scan.Chunk{Begin: 1, End: 3}
	records := []scan.Record{
		scan.NewRecord(1, "A | B", ""),
		scan.NewRecord(2, "", ""),
	}
	_, err := store.Write(context.Background(), chunk, records)
	require.NoError(t, err)

	got, err := store.Read(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestStoreWriteEmptyChunk(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "\t")
	chunk := scan.Chunk{Begin: 5, End: 9}
	path, err := store.Write(context.Background(), chunk, nil)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	got, err := store.Read(context.Background(), chunk)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreReadRejectsMalformedLines(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"missing fields": "12\n",
		"bad id":         "x1\t\"T\"\thttps://www.bilibili.com/bangumi/media/mdx1\n",
		"unquoted title": "1\tT\thttps://www.bilibili.com/bangumi/media/md1\n",
		"missing url":    "1\t\"T\"\n",
		"empty url":      "1\t\"T\"\t\n",
		"url mismatch":   "1\t\"T\"\thttps://www.bilibili.com/bangumi/media/md2\n",
	}
	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := newTestStore(t, "\t")
			chunk := scan.Chunk{Begin: 1, End: 2}
			require.NoError(t, os.WriteFile(store.Path(chunk), []byte(content), 0o600))

			_, err := store.Read(context.Background(), chunk)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, 1, parseErr.Line)
			assert.Equal(t, store.Path(chunk), parseErr.Path)
		})
	}
}

func TestStoreReadReportsLineNumber(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "\t")
	chunk := scan.Chunk{Begin: 1, End: 3}
	content := "1\t\"A\"\thttps://www.bilibili.com/bangumi/media/md1\ngarbage\n"
	require.NoError(t, os.WriteFile(store.Path(chunk), []byte(content), 0o600))

	_, err := store.Read(context.Background(), chunk)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 2, parseErr.Line)
}

func TestStoreReadMissingArtifact(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "\t")
	_, err := store.Read(context.Background(), scan.Chunk{Begin: 1, End: 2})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreWriteFailureIsPersistenceError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "\t")
	chunk := scan.Chunk{Begin: 1, End: 2}
	// A directory at the artifact path makes the final rename fail.
	require.NoError(t, os.Mkdir(store.Path(chunk), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(store.Path(chunk), "x"), []byte("x"), 0o600))

	_, err := store.Write(context.Background(), chunk, []scan.Record{scan.NewRecord(1, "T", "")})
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)

	entries, err := os.ReadDir(filepath.Dir(store.Path(chunk)))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file is removed after a failed write")
}

func TestStoreWriteHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "\t")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Write(ctx, scan.Chunk{Begin: 1, End: 2}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, errors.As(err, new(*PersistenceError)))
}

func TestStoreRemoveIgnoresMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "\t")
	chunk := scan.Chunk{Begin: 1, End: 2}
	require.NoError(t, store.Remove(chunk))

	_, err := store.Write(context.Background(), chunk, nil)
	require.NoError(t, err)
	require.NoError(t, store.Remove(chunk))
	require.NoFileExists(t, store.Path(chunk))
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Dir: t.TempDir()}, nil)
	require.Error(t, err)
	_, err = New(Config{Dir: t.TempDir(), Delimiter: "\n"}, nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = New(Config{Dir: file, Delimiter: "\t"}, nil)
	require.Error(t, err)

	nested := filepath.Join(t.TempDir(), "a", "b")
	_, err = New(Config{Dir: nested, Delimiter: "\t"}, nil)
	require.NoError(t, err)
	require.DirExists(t, nested)
}

func TestStoreCustomURLTemplate(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Dir: t.TempDir(), Delimiter: ",", URLTemplate: "https://mirror.test/md%d"}, nil)
	require.NoError(t, err)
	chunk := scan.Chunk{Begin: 3, End: 4}
	records := []scan.Record{scan.NewRecord(3, "T", "https://mirror.test/md%d")}
	_, err = store.Write(context.Background(), chunk, records)
	require.NoError(t, err)

	got, err := store.Read(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.test/md3", got[0].URL)
}

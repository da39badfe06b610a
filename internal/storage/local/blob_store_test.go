package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kb-crawler/internal/storage/local"
)

func TestNewPreparesBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive", "html")
	_, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "writability check file should be removed")
}

func TestNewRejectsBadBaseDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	for name, cfg := range map[string]local.Config{
		"empty":         {},
		"blank":         {BaseDir: "   "},
		"not directory": {BaseDir: file},
	} {
		_, err := local.New(cfg)
		require.Error(t, err, name)
	}
}

func TestNewRejectsReadOnlyDir(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	// #nosec G302 -- read-only directory for the writability check.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() {
		// #nosec G302 -- restore so the temp dir can be removed.
		_ = os.Chmod(dir, 0o700)
	})

	_, err := local.New(local.Config{BaseDir: dir})
	require.Error(t, err)
}

func TestPutObjectWritesAndReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	const path = "pages/kb-1/0123456789abcdef.html"
	uri, err := store.PutObject(ctx, path, "text/html", []byte("<p>v1</p>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "pages", "kb-1", "0123456789abcdef.html"), uri)

	again, err := store.PutObject(ctx, path, "text/html", []byte("<p>v2</p>"))
	require.NoError(t, err)
	require.Equal(t, uri, again)

	// #nosec G304 -- reads from the test's temp directory.
	got, err := os.ReadFile(filepath.Join(dir, path))
	require.NoError(t, err)
	require.Equal(t, "<p>v2</p>", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "pages", "kb-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files should not be left behind")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutObject(ctx, "", "text/html", []byte("x"))
	require.Error(t, err)

	for _, p := range []string{"../escape.html", "a/../../escape.html", ".."} {
		_, err = store.PutObject(ctx, p, "text/html", []byte("x"))
		require.ErrorIs(t, err, local.ErrPathEscapesBase, p)
	}
}

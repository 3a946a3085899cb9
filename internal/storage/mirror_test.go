package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proceedings-crawler/internal/storage/memory"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
}

func TestMirrorUploadsTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"papers_output.csv":      "Year,Title",
		"run_summary.yaml":       "run_id: r",
		"2023/Paper.pdf":         "%PDF",
		"2023/.download-123.tmp": "partial",
		".hidden/ignored.txt":    "x",
	})
	store := memory.NewBlobStore()

	uris, failed, err := Mirror(context.Background(), store, root, "/proceedings/", "run-1", nil)
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, []string{
		"proceedings/run-1/2023/Paper.pdf",
		"proceedings/run-1/papers_output.csv",
		"proceedings/run-1/run_summary.yaml",
	}, store.Keys())
	assert.Equal(t, "memory://proceedings/run-1/papers_output.csv", uris["papers_output.csv"])

	body, ct, ok := store.Get("proceedings/run-1/2023/Paper.pdf")
	require.True(t, ok)
	assert.Equal(t, "%PDF", string(body))
	assert.Equal(t, "application/pdf", ct)
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("denied")
}

func TestMirrorCountsFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.csv": "a", "b/c.pdf": "c"})

	uris, failed, err := Mirror(context.Background(), failingStore{}, root, "", "run", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
	assert.Empty(t, uris)
}

func TestMirrorCanceled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.csv": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Mirror(ctx, memory.NewBlobStore(), root, "", "run", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObjectKeyAndContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "run/2023/x.pdf", ObjectKey("", "run", filepath.Join("2023", "x.pdf")))
	assert.Equal(t, "p/q/run/x.csv", ObjectKey("/p/q/", "run", "x.csv"))
	assert.Equal(t, "application/pdf", ContentType("X.PDF"))
	assert.Equal(t, "text/csv", ContentType("a.csv"))
	assert.Equal(t, "application/yaml", ContentType("a.yaml"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}

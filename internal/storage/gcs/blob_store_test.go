package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.EqualError(t, err, "storage client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = New(client, Config{})
	assert.EqualError(t, err, "bucket name is required")

	_, err = Dial(context.Background(), Config{Bucket: " "})
	assert.EqualError(t, err, "bucket name is required")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	store, err := New(client, Config{Bucket: "papers"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "application/pdf", strings.NewReader("x"))
	assert.EqualError(t, err, "path is required")
	assert.NoError(t, store.Close(), "borrowed clients are not closed")
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"papers","name":"run-1/papers_output.csv","size":"9"}`)
	}))
	defer srv.Close()

	client, err := storage.NewClient(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
	)
	require.NoError(t, err)
	defer client.Close()

	store, err := New(client, Config{Bucket: "papers"})
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "run-1/papers_output.csv", "text/csv", strings.NewReader("Year,Title"))
	require.NoError(t, err)
	assert.Equal(t, "gs://papers/run-1/papers_output.csv", uri)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, bodies)
	assert.Contains(t, strings.Join(bodies, "\n"), "Year,Title")
}

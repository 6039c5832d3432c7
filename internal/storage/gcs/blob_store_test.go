package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestStore points a storage client at an httptest server.
func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	var (
		gotName atomic.Value
		gotBody atomic.Value
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName.Store(r.URL.Query().Get("name"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		_, _ = fmt.Fprintln(w, `{"name":"archive/parse-failures/hindi/abc.html","bucket":"test-bucket"}`)
	})
	store := newTestStore(t, handler, Config{Bucket: "test-bucket", Prefix: "/archive/"})

	uri, err := store.PutObject(context.Background(), "parse-failures/hindi/abc.html", "text/html", bytes.NewReader([]byte("<html>x</html>")))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/archive/parse-failures/hindi/abc.html", uri)
	require.Equal(t, "archive/parse-failures/hindi/abc.html", gotName.Load())
	require.Contains(t, gotBody.Load(), "<html>x</html>")
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "test-bucket"})

	_, err := store.PutObject(context.Background(), "parse-failures/hindi/abc.html", "text/html", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	require.Equal(t, "x/y.html", store.ObjectName("x/y.html"))
}

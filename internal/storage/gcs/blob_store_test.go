package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf         bytes.Buffer
	contentType string
	closed      bool
	closeErr    error
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}
func (w *fakeWriter) SetContentType(ct string) { w.contentType = ct }

func newFakeStore(w *fakeWriter, paths *[]string) *BlobStore {
	return &BlobStore{
		bucket: "archive",
		newWriter: func(_ context.Context, path string) objectWriter {
			*paths = append(*paths, path)
			return w
		},
	}
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	var paths []string
	store := newFakeStore(w, &paths)

	uri, err := store.PutObject(context.Background(), "pages/t1/abc.html", "text/html", strings.NewReader("<html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/pages/t1/abc.html", uri)
	require.Equal(t, []string{"pages/t1/abc.html"}, paths)
	require.Equal(t, "<html>", w.buf.String())
	require.Equal(t, "text/html", w.contentType)
	require.True(t, w.closed)
	require.NoError(t, store.Close())
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var paths []string
	_, err := newFakeStore(&fakeWriter{}, &paths).PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")
	require.Empty(t, paths)

	w := &fakeWriter{closeErr: errors.New("precondition failed")}
	_, err = newFakeStore(w, &paths).PutObject(context.Background(), "p", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "precondition failed")
}

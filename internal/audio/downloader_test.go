package audio

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLocalFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "input.wav")
	require.NoError(t, os.WriteFile(src, []byte("wav-bytes"), 0o644))

	d := NewDownloader(0)
	dest := t.TempDir()
	got, err := d.Fetch(t.Context(), src, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "wav-bytes", string(data))
	assert.Equal(t, dest, filepath.Dir(got))
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remote-audio"))
	}))
	defer srv.Close()

	d := NewDownloader(0)
	got, err := d.Fetch(t.Context(), srv.URL+"/recordings/call.wav", t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "remote-audio", string(data))
	assert.Equal(t, "call.wav", filepath.Base(got))
}

func TestFetchURLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(0)
	_, err := d.Fetch(t.Context(), srv.URL+"/gone.wav", t.TempDir())
	assert.Error(t, err)
}

func TestFetchRespectsSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	d := NewDownloader(1024)
	_, err := d.Fetch(t.Context(), srv.URL+"/big.wav", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download cap")
}

package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTwilioRecordingFetcher(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/Recordings/RE1.mp3" {
			t.Errorf("path = %s", r.URL.Path)
		}
		// Not yet available on the first attempt.
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	f := NewTwilioRecordingFetcher("AC1", "secret", 5*time.Second)
	rec, err := f.Fetch(context.Background(), srv.URL+"/Recordings/RE1")
	require.NoError(t, err)
	require.Equal(t, "ID3audio", string(rec.Data))
	require.Equal(t, "audio/mpeg", rec.ContentType)
	require.Equal(t, "RE1.mp3", rec.Filename)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestTwilioRecordingFetcherRequiresURL(t *testing.T) {
	_, err := NewTwilioRecordingFetcher("", "", 0).Fetch(context.Background(), "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestContentTypeFor(t *testing.T) {
	require.Equal(t, "audio/wav", contentTypeFor("https://x/RE1.WAV"))
	require.Equal(t, "audio/mpeg", contentTypeFor("https://x/RE1.mp3"))
}

package beacon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"round": 4441786, "randomness": "` + strings.Repeat("ab", 32) + `"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	randomness, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4441786), randomness.Round)
	assert.Equal(t, strings.Repeat("ab", 32), randomness.Randomness)
}

func TestClient_FetchTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 10*time.Millisecond)
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
}

func TestClient_FetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
}

func TestClient_FetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
}

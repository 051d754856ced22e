package hclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsget/hlsget/hclient"
	"github.com/hlsget/hlsget/htypes"
)

func TestSharedHeadersApplied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/res", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hlsget/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "token", r.Header.Get("X-Auth"))
		cookie, err := r.Cookie("session")
		require.NoError(t, err)
		assert.Equal(t, "abc", cookie.Value)
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	config := hclient.NewConfig()
	config.Headers["X-Auth"] = "token"
	config.Cookies["session"] = "abc"

	client, err := hclient.New(config)
	require.NoError(t, err)

	data, err := client.Fetch(context.Background(), server.URL+"/res", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
}

func TestFetchRange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/res", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-3", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := hclient.New(hclient.NewConfig())
	require.NoError(t, err)

	data, err := client.Fetch(context.Background(), server.URL+"/res", &htypes.ByteRange{Offset: 0, Length: 4})
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), data)
}

func TestFetchRangeIgnoredByServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/res", func(w http.ResponseWriter, r *http.Request) {
		// Answer 200 with the whole resource despite the Range header.
		w.Write([]byte("0123456789"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := hclient.New(hclient.NewConfig())
	require.NoError(t, err)

	data, err := client.Fetch(context.Background(), server.URL+"/res", &htypes.ByteRange{Offset: 4, Length: 3})
	require.NoError(t, err)
	assert.Equal(t, []byte("456"), data)

	_, err = client.Fetch(context.Background(), server.URL+"/res", &htypes.ByteRange{Offset: 8, Length: 5})
	assert.Error(t, err)
}

func TestFetchBadStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/res", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := hclient.New(hclient.NewConfig())
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), server.URL+"/res", nil)
	assert.Error(t, err)
}

func TestBadProxyURL(t *testing.T) {
	config := hclient.NewConfig()
	config.Proxy = "://not-a-url"
	_, err := hclient.New(config)
	assert.Error(t, err)
}

package worker

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsget/hlsget/htypes"
	"github.com/hlsget/hlsget/playlist"
)

func mustPlaylist(t *testing.T, doc string) *playlist.Playlist {
	base, err := url.Parse("http://example.com/chunks.m3u8")
	require.NoError(t, err)
	pl, err := playlist.Parse([]byte(doc), base)
	require.NoError(t, err)
	return pl
}

// origin is a synthetic HLS server recording which paths were hit.
type origin struct {
	mux    *http.ServeMux
	server *httptest.Server

	m    sync.Mutex
	hits map[string]int
}

func newOrigin(t *testing.T) *origin {
	o := &origin{
		mux:  http.NewServeMux(),
		hits: map[string]int{},
	}
	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.m.Lock()
		o.hits[r.URL.Path]++
		o.m.Unlock()
		o.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(o.server.Close)
	return o
}

func (o *origin) hitCount(path string) int {
	o.m.Lock()
	defer o.m.Unlock()
	return o.hits[path]
}

func (o *origin) serveBytes(path string, data []byte) {
	o.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})
}

func testConfig() Config {
	config := NewConfig()
	config.BufferSize = 1024 * 1024
	return config
}

func TestVodStraightThrough(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
a.ts
#EXTINF:10.000,
b.ts
#EXTINF:10.000,
c.ts
#EXT-X-ENDLIST
`))
	o.serveBytes("/a.ts", []byte("aaaaaaaaaa"))
	o.serveBytes("/b.ts", []byte("bbbbbbbbbb"))
	o.serveBytes("/c.ts", []byte("cccccccccc"))

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", testConfig())
	require.NoError(t, err)
	defer rd.Close()

	data, err := ioutil.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaaaaaaaabbbbbbbbbbcccccccccc"), data)

	// EOF terminality.
	n, err := rd.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestLiveEdgeSkipAndDrain(t *testing.T) {
	o := newOrigin(t)

	v1 := `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:1.000,
seg100.ts
#EXTINF:1.000,
seg101.ts
#EXTINF:1.000,
seg102.ts
#EXTINF:1.000,
seg103.ts
#EXTINF:1.000,
seg104.ts
`
	v2 := `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:1.000,
seg100.ts
#EXTINF:1.000,
seg101.ts
#EXTINF:1.000,
seg102.ts
#EXTINF:1.000,
seg103.ts
#EXTINF:1.000,
seg104.ts
#EXTINF:1.000,
seg105.ts
#EXTINF:1.000,
seg106.ts
#EXT-X-ENDLIST
`
	var reloads int32
	o.mux.HandleFunc("/chunks.m3u8", func(w http.ResponseWriter, r *http.Request) {
		// Request 1 resolves the URL, request 2 is the first worker
		// load; later reloads see the finished playlist.
		if atomic.AddInt32(&reloads, 1) <= 2 {
			w.Write([]byte(v1))
			return
		}
		w.Write([]byte(v2))
	})
	for _, num := range []string{"100", "101", "102", "103", "104", "105", "106"} {
		o.serveBytes("/seg"+num+".ts", []byte("<"+num+">"))
	}

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", testConfig())
	require.NoError(t, err)
	defer rd.Close()

	data, err := ioutil.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, []byte("<103><104><105><106>"), data)

	for _, num := range []string{"100", "101", "102"} {
		assert.Zero(t, o.hitCount("/seg"+num+".ts"), "segment %s must never be fetched", num)
	}
}

func TestBadSegmentSkipped(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
a.ts
#EXTINF:10.000,
b.ts
#EXTINF:10.000,
c.ts
#EXT-X-ENDLIST
`))
	o.serveBytes("/a.ts", []byte("AAAA"))
	o.mux.HandleFunc("/b.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	o.serveBytes("/c.ts", []byte("CCCC"))

	config := testConfig()
	config.SegmentAttempts = 2

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", config)
	require.NoError(t, err)
	defer rd.Close()

	data, err := ioutil.ReadAll(rd)
	require.NoError(t, err, "one bad segment must not fail the stream")
	assert.Equal(t, []byte("AAAACCCC"), data)
	assert.Equal(t, 2, o.hitCount("/b.ts"))
}

func encryptAES128(t *testing.T, plain, key, iv []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func TestEncryptedStream(t *testing.T) {
	o := newOrigin(t)

	key := []byte("0123456789abcdef")
	iv := make([]byte, 16)
	iv[15] = 1
	plain := []byte("hello-streamlink-ok!")

	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:10
#EXT-X-KEY:METHOD=AES-128,URI="k",IV=0x00000000000000000000000000000001
#EXTINF:10.000,
seg.ts
#EXT-X-ENDLIST
`))
	o.serveBytes("/k", key)
	o.serveBytes("/seg.ts", encryptAES128(t, plain, key, iv))

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", testConfig())
	require.NoError(t, err)
	defer rd.Close()

	data, err := ioutil.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, plain, data)
}

func TestReaderStallTimeout(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
seg.ts
`))
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	o.mux.HandleFunc("/seg.ts", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-hang:
		case <-r.Context().Done():
		}
	})

	config := testConfig()
	config.Timeout = duration{2 * time.Second}

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", config)
	require.NoError(t, err)
	defer rd.Close()

	start := time.Now()
	n, err := rd.Read(make([]byte, 16))
	elapsed := time.Since(start)

	assert.Equal(t, 0, n)
	require.Error(t, err)
	assert.True(t, htypes.IsKind(err, htypes.ErrStreamTimeout))
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 3*time.Second)

	n, err = rd.Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestDiscontinuityWithMaps(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MAP:URI="init-a"
#EXTINF:6.000,
s1.m4s
#EXTINF:6.000,
s2.m4s
#EXT-X-DISCONTINUITY
#EXT-X-MAP:URI="init-b"
#EXTINF:6.000,
s3.m4s
#EXTINF:6.000,
s4.m4s
#EXT-X-ENDLIST
`))
	o.serveBytes("/init-a", []byte("[IA]"))
	o.serveBytes("/init-b", []byte("[IB]"))
	o.serveBytes("/s1.m4s", []byte("s1"))
	o.serveBytes("/s2.m4s", []byte("s2"))
	o.serveBytes("/s3.m4s", []byte("s3"))
	o.serveBytes("/s4.m4s", []byte("s4"))

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", testConfig())
	require.NoError(t, err)
	defer rd.Close()

	data, err := ioutil.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, []byte("[IA]s1s2[IB]s3s4"), data)
	assert.Equal(t, 1, o.hitCount("/init-a"))
	assert.Equal(t, 1, o.hitCount("/init-b"))
}

func TestFatalPlaylistError(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte("this is not a playlist"))

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", testConfig())
	require.NoError(t, err)
	defer rd.Close()

	_, err = ioutil.ReadAll(rd)
	require.Error(t, err)
	assert.True(t, htypes.IsKind(err, htypes.ErrMalformedPlaylist))
}

func TestIdempotentClose(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
a.ts
#EXT-X-ENDLIST
`))
	o.serveBytes("/a.ts", []byte("AAAA"))

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", testConfig())
	require.NoError(t, err)

	require.NoError(t, rd.Close())
	require.NoError(t, rd.Close())
	require.NoError(t, rd.Close())

	n, err := rd.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestConcurrencyBound(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
s1.ts
#EXTINF:10.000,
s2.ts
#EXTINF:10.000,
s3.ts
#EXTINF:10.000,
s4.ts
#EXTINF:10.000,
s5.ts
#EXTINF:10.000,
s6.ts
#EXT-X-ENDLIST
`))

	var inFlight, maxInFlight int32
	for _, name := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		name := name
		o.mux.HandleFunc("/"+name+".ts", func(w http.ResponseWriter, r *http.Request) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxInFlight)
				if cur <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, cur) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			w.Write([]byte(name))
		})
	}

	config := testConfig()
	config.SegmentThreads = 2

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", config)
	require.NoError(t, err)
	defer rd.Close()

	data, err := ioutil.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, []byte("s1s2s3s4s5s6"), data)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

func TestVodWindowing(t *testing.T) {
	o := newOrigin(t)
	o.serveBytes("/chunks.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
a.ts
#EXTINF:10.000,
b.ts
#EXTINF:10.000,
c.ts
#EXTINF:10.000,
d.ts
#EXT-X-ENDLIST
`))
	o.serveBytes("/a.ts", []byte("AA"))
	o.serveBytes("/b.ts", []byte("BB"))
	o.serveBytes("/c.ts", []byte("CC"))
	o.serveBytes("/d.ts", []byte("DD"))

	config := testConfig()
	config.StartOffset = duration{10 * time.Second}
	config.Duration = duration{20 * time.Second}

	rd, err := OpenStream(o.server.URL+"/chunks.m3u8", config)
	require.NoError(t, err)
	defer rd.Close()

	data, err := ioutil.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, []byte("BBCC"), data)
	assert.Zero(t, o.hitCount("/a.ts"))
	assert.Zero(t, o.hitCount("/d.ts"))
}

package worker

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	config := NewConfig()

	err := config.ApplyOptions(map[string]string{
		"hls-live-edge":       "5",
		"hls-segment-threads": "4",
		"hls-timeout":         "2.5",
		"hls-segment-timeout": "3s",
		"hls-audio-select":    "english",
	})
	require.NoError(t, err)

	assert.Equal(t, 5, config.LiveEdge)
	assert.Equal(t, 4, config.SegmentThreads)
	assert.Equal(t, 2500*time.Millisecond, config.Timeout.Duration)
	assert.Equal(t, 3*time.Second, config.SegmentTimeout.Duration)
	assert.Equal(t, "english", config.AudioSelect)
}

func TestApplyOptionsUnknownKey(t *testing.T) {
	config := NewConfig()
	err := config.ApplyOptions(map[string]string{"hls-no-such-option": "1"})
	assert.Error(t, err)
}

func TestApplyOptionsBadDuration(t *testing.T) {
	config := NewConfig()
	err := config.ApplyOptions(map[string]string{"hls-timeout": "soon"})
	assert.Error(t, err)
}

func TestValidateClamps(t *testing.T) {
	config := NewConfig()
	config.LiveEdge = 0
	config.SegmentThreads = 99
	require.NoError(t, config.Validate())
	assert.Equal(t, 1, config.LiveEdge)
	assert.Equal(t, 10, config.SegmentThreads)

	config = NewConfig()
	config.Timeout = duration{0}
	assert.Error(t, config.Validate())

	config = NewConfig()
	config.BufferSize = 1
	assert.Error(t, config.Validate())
}

func TestConfigFromFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "hlsget_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
LogLevel = "debug"
LiveEdge = 4
SegmentThreads = 2
Timeout = "90s"
`), 0644))

	config, err := NewConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, config.LiveEdge)
	assert.Equal(t, 2, config.SegmentThreads)
	assert.Equal(t, 90*time.Second, config.Timeout.Duration)
}

func TestConfigFromFileUnknownKey(t *testing.T) {
	dir, err := ioutil.TempDir("", "hlsget_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("NoSuchKey = 1\n"), 0644))

	_, err = NewConfigFromFile(path)
	assert.Error(t, err)
}

func TestReloadWaitBounds(t *testing.T) {
	w := &worker{config: NewConfig()}

	pl := mustPlaylist(t, `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:4.000,
a.ts
`)
	assert.Equal(t, 4*time.Second, w.reloadWait(pl, false))
	assert.Equal(t, 2*time.Second, w.reloadWait(pl, true))

	short := mustPlaylist(t, `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXTINF:0.200,
a.ts
`)
	assert.Equal(t, minReloadWait, w.reloadWait(short, false))
	assert.Equal(t, time.Duration(0), w.reloadWait(nil, false)-minReloadWait)
}

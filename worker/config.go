package worker

import (
	"reflect"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/hclient"
	"github.com/hlsget/hlsget/kcache"
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))

	return
}

// Config aggregates every tunable of one stream. Option names follow
// the user-facing hls-*/http-* vocabulary.
type Config struct {
	LogLevel string `mapstructure:"log-level"`

	LiveEdge        int      `mapstructure:"hls-live-edge"`
	SegmentAttempts int      `mapstructure:"hls-segment-attempts"`
	SegmentThreads  int      `mapstructure:"hls-segment-threads"`
	SegmentTimeout  duration `mapstructure:"hls-segment-timeout"`
	Timeout         duration `mapstructure:"hls-timeout"`
	StartOffset     duration `mapstructure:"hls-start-offset"`
	Duration        duration `mapstructure:"hls-duration"`
	AudioSelect     string   `mapstructure:"hls-audio-select"`

	PlaylistReloadAttempts int      `mapstructure:"hls-playlist-reload-attempts"`
	PlaylistReloadTime     duration `mapstructure:"hls-playlist-reload-time"`

	ConnectTimeout duration          `mapstructure:"http-connect-timeout"`
	HttpProxy      string            `mapstructure:"http-proxy"`
	HttpHeaders    map[string]string `mapstructure:"http-headers"`
	HttpCookies    map[string]string `mapstructure:"http-cookies"`

	BufferSize int `mapstructure:"buffer-size"`

	KcacheConfig kcache.Config `mapstructure:"-"`
}

func NewConfig() Config {
	return Config{
		LogLevel:               "info",
		LiveEdge:               3,
		SegmentAttempts:        3,
		SegmentThreads:         1,
		SegmentTimeout:         duration{20 * time.Second},
		Timeout:                duration{60 * time.Second},
		PlaylistReloadAttempts: 3,
		ConnectTimeout:         duration{10 * time.Second},
		HttpHeaders:            map[string]string{},
		HttpCookies:            map[string]string{},
		BufferSize:             16 * 1024 * 1024,
		KcacheConfig:           kcache.NewConfig(),
	}
}

// NewConfigFromFile loads a TOML config over the defaults, rejecting
// unknown keys the way the rest of the tooling does.
func NewConfigFromFile(configPath string) (Config, error) {
	config := NewConfig()

	meta, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return config, errors.Wrapf(err, "cannot decode config %s", configPath)
	}
	if len(meta.Undecoded()) != 0 {
		return config, errors.Errorf("unknown config keys %v in %s", meta.Undecoded(), configPath)
	}

	if err := config.SetupLogging(); err != nil {
		return config, err
	}
	logrus.Infof("Final config: %+v", config)
	return config, nil
}

func (c *Config) SetupLogging() error {
	switch c.LogLevel {
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	default:
		return errors.Errorf("bad log level: %s", c.LogLevel)
	}
	return nil
}

// ApplyOptions weak-decodes a string option map (for example from CLI
// -o key=value pairs) onto the config. Durations accept either Go
// duration syntax or bare seconds.
func (c *Config) ApplyOptions(options map[string]string) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		DecodeHook:       stringToDurationHook,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "cannot build option decoder")
	}
	if err := decoder.Decode(options); err != nil {
		return errors.Wrapf(err, "bad options %+v", options)
	}
	return nil
}

func stringToDurationHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(duration{}) {
		return data, nil
	}
	raw := data.(string)
	if d, err := time.ParseDuration(raw); err == nil {
		return duration{d}, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.Errorf("bad duration %q", raw)
	}
	return duration{time.Duration(seconds * float64(time.Second))}, nil
}

// Validate clamps the tunables into their documented ranges.
func (c *Config) Validate() error {
	if c.LiveEdge < 1 {
		c.LiveEdge = 1
	}
	if c.SegmentAttempts < 1 {
		c.SegmentAttempts = 1
	}
	if c.SegmentThreads < 1 {
		c.SegmentThreads = 1
	}
	if c.SegmentThreads > 10 {
		c.SegmentThreads = 10
	}
	if c.PlaylistReloadAttempts < 1 {
		c.PlaylistReloadAttempts = 1
	}
	if c.SegmentTimeout.Duration <= 0 || c.Timeout.Duration <= 0 {
		return errors.Errorf("timeouts must be positive: %+v", c)
	}
	if c.BufferSize < 1024 {
		return errors.Errorf("buffer size too small: %d", c.BufferSize)
	}
	return nil
}

func (c *Config) httpConfig() hclient.Config {
	hc := hclient.NewConfig()
	hc.RequestTimeout = c.SegmentTimeout.Duration
	hc.ConnectTimeout = c.ConnectTimeout.Duration
	hc.Proxy = c.HttpProxy
	for k, v := range c.HttpHeaders {
		hc.Headers[k] = v
	}
	for k, v := range c.HttpCookies {
		hc.Cookies[k] = v
	}
	return hc
}

package kcache

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/karlseguin/ccache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/hclient"
	"github.com/hlsget/hlsget/htypes"
)

const (
	MinKeyEntries = 4
	entryTTL      = time.Hour
)

type Config struct {
	MaxKeyEntries int64
	MaxMapEntries int64
}

func NewConfig() Config {
	return Config{
		MaxKeyEntries: 16,
		MaxMapEntries: 16,
	}
}

// Cache memoizes encryption keys by (uri, iv) and initialization
// sections by uri+byterange, so segments sharing a descriptor hit the
// network once.
type Cache struct {
	config Config
	client *hclient.Client
	keys   *ccache.Cache
	maps   *ccache.Cache
}

func New(config Config, client *hclient.Client) *Cache {
	if config.MaxKeyEntries < MinKeyEntries {
		config.MaxKeyEntries = MinKeyEntries
	}
	return &Cache{
		config: config,
		client: client,
		keys:   ccache.New(ccache.Configure().MaxSize(config.MaxKeyEntries).Buckets(4).ItemsToPrune(1)),
		maps:   ccache.New(ccache.Configure().MaxSize(config.MaxMapEntries).Buckets(4).ItemsToPrune(1)),
	}
}

// Key resolves a segment's encryption descriptor to key material and
// the effective IV.
func (c *Cache) Key(ctx context.Context, seg *htypes.Segment) (key []byte, iv []byte, err error) {
	if !seg.Key.Encrypted() {
		return nil, nil, errors.Errorf("segment %d has no encryption descriptor", seg.Num)
	}

	iv = seg.IV()
	cacheKey := fmt.Sprintf("%s|%s", seg.Key.URI, hex.EncodeToString(iv))

	item, err := c.keys.Fetch(cacheKey, entryTTL, func() (interface{}, error) {
		logrus.WithField("key_uri", seg.Key.URI).Debug("Fetching encryption key")
		data, err := c.client.Fetch(ctx, seg.Key.URI, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot fetch key %s", seg.Key.URI)
		}
		if len(data) != htypes.KeySize {
			return nil, errors.Errorf("key %s has %d bytes, want %d", seg.Key.URI, len(data), htypes.KeySize)
		}
		htypes.Stat(false, "key_fetch", "ok", seg.Key.URI)
		return data, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return item.Value().([]byte), iv, nil
}

// InitSection returns the initialization bytes for a map reference,
// fetching them at most once per uri+byterange.
func (c *Cache) InitSection(ctx context.Context, m *htypes.MapRef) ([]byte, error) {
	if m == nil {
		return nil, nil
	}

	item, err := c.maps.Fetch(m.CacheKey(), entryTTL, func() (interface{}, error) {
		logrus.WithField("map_uri", m.URI).Debug("Fetching initialization section")
		data, err := c.client.Fetch(ctx, m.URI, m.ByteRange)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot fetch init section %s", m.URI)
		}
		htypes.Stat(false, "map_fetch", "ok", m.URI)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return item.Value().([]byte), nil
}

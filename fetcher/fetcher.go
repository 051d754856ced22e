package fetcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/hclient"
	"github.com/hlsget/hlsget/htypes"
	"github.com/hlsget/hlsget/kcache"
)

type Config struct {
	Attempts  int
	RetryBase time.Duration
}

func NewConfig() Config {
	return Config{
		Attempts:  3,
		RetryBase: 500 * time.Millisecond,
	}
}

// Fetcher downloads and decrypts single segments. Initialization
// sections are not prepended here: ordering decides whether one is
// due, so the drain cursor of the writer pool does that.
type Fetcher struct {
	config Config
	client *hclient.Client
	keys   *kcache.Cache
}

func New(config Config, client *hclient.Client, keys *kcache.Cache) *Fetcher {
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	return &Fetcher{
		config: config,
		client: client,
		keys:   keys,
	}
}

// Fetch retrieves one segment payload, retrying transient failures
// with jittered exponential backoff and decrypting when the segment
// carries an AES-128 descriptor.
func (f *Fetcher) Fetch(ctx context.Context, seg *htypes.Segment) ([]byte, error) {
	start := time.Now()
	data, err := f.download(ctx, seg)
	htypes.Stat(err != nil, "segment_fetch", "timing", htypes.TimeToStat(time.Since(start)))
	if err != nil {
		return nil, err
	}

	if seg.Key.Encrypted() {
		key, iv, err := f.keys.Key(ctx, seg)
		if err != nil {
			return nil, errors.Wrapf(htypes.ErrSegmentUnavailable, "segment %d key: %v", seg.Num, err)
		}
		data, err = decryptAES128(data, key, iv)
		if err != nil {
			htypes.Stat(true, "segment_fetch", "decrypt", seg.URI)
			return nil, errors.Wrapf(err, "segment %d", seg.Num)
		}
	}

	return data, nil
}

func (f *Fetcher) download(ctx context.Context, seg *htypes.Segment) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < f.config.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.backoff(attempt)):
			case <-ctx.Done():
				return nil, errors.Wrapf(htypes.ErrStreamClosed, "segment %d aborted", seg.Num)
			}
		}

		data, err := f.client.Fetch(ctx, seg.URI, seg.ByteRange)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Wrapf(htypes.ErrStreamClosed, "segment %d aborted", seg.Num)
		}
		lastErr = err
		logrus.WithField("segment", seg.Num).Warnf("Fetch attempt %d/%d failed: %+v", attempt+1, f.config.Attempts, err)
	}

	return nil, errors.Wrapf(htypes.ErrSegmentUnavailable, "segment %d after %d attempts: %v", seg.Num, f.config.Attempts, lastErr)
}

// backoff returns base*2^(attempt-1) capped at base*2^(attempts-1),
// with the upper half jittered.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := f.config.RetryBase << uint(attempt-1)
	limit := f.config.RetryBase << uint(f.config.Attempts-1)
	if delay > limit {
		delay = limit
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// InitSection exposes the cached initialization bytes for the drain
// cursor.
func (f *Fetcher) InitSection(ctx context.Context, m *htypes.MapRef) ([]byte, error) {
	return f.keys.InitSection(ctx, m)
}

package worker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/buffer"
	"github.com/hlsget/hlsget/fetcher"
	"github.com/hlsget/hlsget/hclient"
	"github.com/hlsget/hlsget/htypes"
	"github.com/hlsget/hlsget/kcache"
	"github.com/hlsget/hlsget/playlist"
)

// OpenStream resolves rawurl (following a master playlist to its best
// variant if needed) and starts the pipeline: worker -> queue ->
// writer pool -> buffer -> returned Reader. The caller owns the
// Reader and must Close it.
func OpenStream(rawurl string, config Config) (*Reader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := hclient.New(config.httpConfig())
	if err != nil {
		return nil, errors.Wrap(err, "cannot create http client")
	}

	ctx, cancel := context.WithCancel(context.Background())

	mediaURL, err := playlist.ResolveMediaURL(ctx, client, rawurl, config.AudioSelect)
	if err != nil {
		cancel()
		return nil, err
	}
	logrus.WithField("stream_url", mediaURL).Info("Opening HLS stream")

	plFetcher, err := playlist.NewFetcher(client, mediaURL, config.PlaylistReloadAttempts)
	if err != nil {
		cancel()
		return nil, err
	}

	keys := kcache.New(config.KcacheConfig, client)
	segFetcher := fetcher.New(fetcher.Config{
		Attempts:  config.SegmentAttempts,
		RetryBase: fetcher.NewConfig().RetryBase,
	}, client, keys)

	buf := buffer.New(config.BufferSize)
	queue := make(chan *htypes.Segment, 2*config.SegmentThreads)

	rd := newReader(config, buf, cancel)
	wrk := newWorker(config, plFetcher, queue, rd.setFatal)
	pl := newPool(config.SegmentThreads, segFetcher, buf)

	go wrk.run(ctx)
	go pl.run(ctx, queue)
	go pl.drain(ctx)

	return rd, nil
}

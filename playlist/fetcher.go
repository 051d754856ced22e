package playlist

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/hclient"
	"github.com/hlsget/hlsget/htypes"
)

const reloadRetryDelay = 500 * time.Millisecond

// Fetcher reloads one media playlist URL, carrying the ETag between
// reloads so unchanged documents come back as not-modified.
type Fetcher struct {
	client   *hclient.Client
	url      *url.URL
	attempts int
	etag     string
}

func NewFetcher(client *hclient.Client, rawurl string, attempts int) (*Fetcher, error) {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "bad playlist url %s", rawurl)
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Fetcher{
		client:   client,
		url:      parsed,
		attempts: attempts,
	}, nil
}

// Fetch retrieves the current playlist snapshot. The second return is
// true when the server answered 304 and the document did not change.
func (f *Fetcher) Fetch(ctx context.Context) (*Playlist, bool, error) {
	var lastErr error

	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(reloadRetryDelay):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		pl, notModified, err := f.fetchOnce(ctx)
		if err == nil {
			return pl, notModified, nil
		}
		if htypes.IsKind(err, htypes.ErrMalformedPlaylist) || ctx.Err() != nil {
			return nil, false, err
		}
		lastErr = err
		logrus.WithField("stream_url", f.url.String()).Warnf("Playlist reload attempt %d/%d failed: %+v", attempt+1, f.attempts, err)
	}

	htypes.Stat(true, "playlist_fetch", "exhausted", f.url.String())
	return nil, false, errors.Wrapf(htypes.ErrPlaylistUnavailable, "%s after %d attempts: %v", f.url, f.attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context) (*Playlist, bool, error) {
	var extra http.Header
	if f.etag != "" {
		extra = http.Header{"If-None-Match": []string{f.etag}}
	}

	resp, cancel, err := f.client.Do(ctx, http.MethodGet, f.url.String(), extra)
	if err != nil {
		return nil, false, err
	}
	defer cancel()
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		io.Copy(ioutil.Discard, resp.Body)
		return nil, true, nil
	case http.StatusOK:
	default:
		io.Copy(ioutil.Discard, resp.Body)
		return nil, false, errors.Errorf("http status %d for %s", resp.StatusCode, f.url)
	}

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.Wrapf(err, "cannot read playlist body %s", f.url)
	}

	base := f.url
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	pl, err := Parse(data, base)
	if err != nil {
		return nil, false, err
	}

	f.etag = resp.Header.Get("ETag")
	return pl, false, nil
}

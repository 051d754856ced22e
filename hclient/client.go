package hclient

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/htypes"
)

type Config struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Proxy          string
	Headers        map[string]string
	Cookies        map[string]string
	UserAgent      string
}

func NewConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 20 * time.Second,
		Headers:        map[string]string{},
		Cookies:        map[string]string{},
		UserAgent:      "hlsget/1.0",
	}
}

// Client wraps a pooled http.Client with the headers, cookies and
// timeouts every playlist and segment request shares.
type Client struct {
	config Config
	hc     *http.Client
}

func New(config Config) (*Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: config.ConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	if config.Proxy != "" {
		proxyUrl, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, errors.Wrapf(err, "bad proxy url %s", config.Proxy)
		}
		transport.Proxy = http.ProxyURL(proxyUrl)
	}

	return &Client{
		config: config,
		hc: &http.Client{
			Transport: transport,
		},
	}, nil
}

// Do issues one request with the shared headers applied and the
// request timeout armed. Extra headers override the shared ones.
func (c *Client) Do(ctx context.Context, method, rawurl string, extra http.Header) (*http.Response, context.CancelFunc, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)

	req, err := http.NewRequestWithContext(reqCtx, method, rawurl, nil)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrapf(err, "cannot build request %s", rawurl)
	}

	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range c.config.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	for k, vv := range extra {
		for _, v := range vv {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrapf(err, "request failed %s", rawurl)
	}
	return resp, cancel, nil
}

// Fetch downloads the whole resource body. A non-nil byte range turns
// the request into a range GET and requires a 206 answer.
func (c *Client) Fetch(ctx context.Context, rawurl string, br *htypes.ByteRange) ([]byte, error) {
	var extra http.Header
	if br != nil {
		extra = http.Header{"Range": []string{br.HeaderValue()}}
	}

	start := time.Now()
	resp, cancel, err := c.Do(ctx, http.MethodGet, rawurl, extra)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	if br != nil && resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		io.Copy(ioutil.Discard, resp.Body)
		return nil, errors.Errorf("http status %d for range %s of %s", resp.StatusCode, br.HeaderValue(), rawurl)
	}
	if br == nil && resp.StatusCode != http.StatusOK {
		io.Copy(ioutil.Discard, resp.Body)
		return nil, errors.Errorf("http status %d for %s", resp.StatusCode, rawurl)
	}

	data, err := ioutil.ReadAll(resp.Body)
	htypes.Stat(err != nil, "http_fetch", "timing", htypes.TimeToStat(time.Since(start)))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read body %s", rawurl)
	}

	if br != nil && resp.StatusCode == http.StatusOK {
		// Server ignored the Range header and sent the whole resource;
		// cut the requested slice ourselves.
		if int64(len(data)) < br.End() {
			return nil, errors.Errorf("resource %s has %d bytes, range %s out of bounds", rawurl, len(data), br.HeaderValue())
		}
		data = data[br.Offset:br.End()]
	}

	logrus.Debugf("Fetched %d bytes from %s", len(data), rawurl)
	return data, nil
}

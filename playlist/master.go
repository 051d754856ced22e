package playlist

import (
	"bufio"
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/hclient"
	"github.com/hlsget/hlsget/htypes"
)

// Variant is one #EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	URI        string
	Bandwidth  int64
	Resolution string
	Codecs     string
	Audio      string
}

// Rendition is one #EXT-X-MEDIA entry.
type Rendition struct {
	Type    string
	GroupId string
	Name    string
	URI     string
	Default bool
}

type Master struct {
	Variants   []Variant
	Renditions []Rendition
}

// ParseMaster converts a master playlist document.
func ParseMaster(data []byte, base *url.URL) (*Master, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	m := &Master{}
	sawHeader := false
	var pending *Variant

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !sawHeader {
			if line != tagHeader {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "missing %s", tagHeader)
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, tagStreamInf):
			attrs := parseAttrs(strings.TrimPrefix(line, tagStreamInf))
			bandwidth, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad variant bandwidth %q", line)
			}
			pending = &Variant{
				Bandwidth:  bandwidth,
				Resolution: attrs["RESOLUTION"],
				Codecs:     attrs["CODECS"],
				Audio:      attrs["AUDIO"],
			}
		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			uri := ""
			if attrs["URI"] != "" {
				resolved, err := resolve(base, attrs["URI"])
				if err != nil {
					return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad rendition uri %q", attrs["URI"])
				}
				uri = resolved
			}
			m.Renditions = append(m.Renditions, Rendition{
				Type:    attrs["TYPE"],
				GroupId: attrs["GROUP-ID"],
				Name:    attrs["NAME"],
				URI:     uri,
				Default: attrs["DEFAULT"] == "YES",
			})
		case strings.HasPrefix(line, "#"):
		default:
			if pending == nil {
				continue
			}
			uri, err := resolve(base, line)
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad variant uri %q", line)
			}
			pending.URI = uri
			m.Variants = append(m.Variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot scan master playlist")
	}

	if len(m.Variants) == 0 {
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "master playlist without variants")
	}
	return m, nil
}

// Best returns the variant with the highest bandwidth.
func (m *Master) Best() *Variant {
	best := &m.Variants[0]
	for i := range m.Variants {
		if m.Variants[i].Bandwidth > best.Bandwidth {
			best = &m.Variants[i]
		}
	}
	return best
}

// AudioRendition picks the audio rendition matching name within the
// variant's audio group, or nil.
func (m *Master) AudioRendition(v *Variant, name string) *Rendition {
	for i := range m.Renditions {
		r := &m.Renditions[i]
		if r.Type != "AUDIO" || r.GroupId != v.Audio || r.URI == "" {
			continue
		}
		if name == "" && r.Default {
			return r
		}
		if name != "" && r.Name == name {
			return r
		}
	}
	return nil
}

// ResolveMediaURL fetches rawurl once and, if it answers with a master
// playlist, picks the media playlist to stream: the named audio
// rendition when audioSelect matches one, the best variant otherwise.
func ResolveMediaURL(ctx context.Context, client *hclient.Client, rawurl string, audioSelect string) (string, error) {
	data, err := client.Fetch(ctx, rawurl, nil)
	if err != nil {
		return "", errors.Wrapf(htypes.ErrPlaylistUnavailable, "cannot resolve %s: %v", rawurl, err)
	}

	if !IsMaster(data) {
		return rawurl, nil
	}

	base, err := url.Parse(rawurl)
	if err != nil {
		return "", errors.Wrapf(err, "bad playlist url %s", rawurl)
	}

	master, err := ParseMaster(data, base)
	if err != nil {
		return "", err
	}

	variant := master.Best()
	if audioSelect != "" {
		if rendition := master.AudioRendition(variant, audioSelect); rendition != nil {
			logrus.WithField("stream_url", rawurl).Infof("Selected audio rendition %s", rendition.Name)
			return rendition.URI, nil
		}
		logrus.WithField("stream_url", rawurl).Warnf("No audio rendition named %q, using the variant stream", audioSelect)
	}

	logrus.WithField("stream_url", rawurl).Infof("Selected variant bandwidth=%d resolution=%s", variant.Bandwidth, variant.Resolution)
	return variant.URI, nil
}

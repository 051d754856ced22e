package playlist

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/htypes"
)

const (
	tagHeader                = "#EXTM3U"
	tagVersion               = "#EXT-X-VERSION:"
	tagTargetDuration        = "#EXT-X-TARGETDURATION:"
	tagMediaSequence         = "#EXT-X-MEDIA-SEQUENCE:"
	tagDiscontinuitySequence = "#EXT-X-DISCONTINUITY-SEQUENCE:"
	tagPlaylistType          = "#EXT-X-PLAYLIST-TYPE:"
	tagIFramesOnly           = "#EXT-X-I-FRAMES-ONLY"
	tagEndList               = "#EXT-X-ENDLIST"
	tagDiscontinuity         = "#EXT-X-DISCONTINUITY"
	tagKey                   = "#EXT-X-KEY:"
	tagMap                   = "#EXT-X-MAP:"
	tagByteRange             = "#EXT-X-BYTERANGE:"
	tagInf                   = "#EXTINF:"
	tagStreamInf             = "#EXT-X-STREAM-INF:"
)

var reAttr = regexp.MustCompile(`([A-Za-z0-9-]+)=("[^"]*"|[^",]+)`)

func parseAttrs(line string) map[string]string {
	attrs := map[string]string{}
	for _, kv := range reAttr.FindAllStringSubmatch(line, -1) {
		attrs[kv[1]] = strings.Trim(kv[2], `"`)
	}
	return attrs
}

// IsMaster reports whether the document declares variant streams
// instead of media segments.
func IsMaster(data []byte) bool {
	return bytes.Contains(data, []byte(tagStreamInf))
}

// Parse converts a media playlist document into a Playlist. Relative
// URIs are resolved against base. Unknown tags are skipped.
func Parse(data []byte, base *url.URL) (*Playlist, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	p := &Playlist{}
	sawHeader := false
	sawTargetDuration := false

	var (
		duration     float64
		haveDuration bool
		discontinuity bool
		pendingRange *htypes.ByteRange
		currentKey   *htypes.Key
		currentMap   *htypes.MapRef
		prevSeg      *htypes.Segment
	)

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
		case strings.HasPrefix(line, tagVersion):
			v, err := strconv.Atoi(strings.TrimPrefix(line, tagVersion))
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad version %q", line)
			}
			p.Version = v
		case strings.HasPrefix(line, tagTargetDuration):
			v, err := strconv.Atoi(strings.TrimPrefix(line, tagTargetDuration))
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad target duration %q", line)
			}
			p.TargetDuration = v
			sawTargetDuration = true
		case strings.HasPrefix(line, tagMediaSequence):
			v, err := strconv.ParseInt(strings.TrimPrefix(line, tagMediaSequence), 10, 64)
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad media sequence %q", line)
			}
			p.MediaSequence = v
		case strings.HasPrefix(line, tagDiscontinuitySequence):
			v, err := strconv.ParseInt(strings.TrimPrefix(line, tagDiscontinuitySequence), 10, 64)
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad discontinuity sequence %q", line)
			}
			p.DiscontinuitySequence = v
		case strings.HasPrefix(line, tagPlaylistType):
			p.Type = PlaylistType(strings.TrimPrefix(line, tagPlaylistType))
		case line == tagIFramesOnly:
			p.IFramesOnly = true
		case line == tagEndList:
			p.EndList = true
		case line == tagDiscontinuity:
			discontinuity = true
		case strings.HasPrefix(line, tagKey):
			key, err := parseKey(strings.TrimPrefix(line, tagKey), base)
			if err != nil {
				return nil, err
			}
			currentKey = key
		case strings.HasPrefix(line, tagMap):
			m, err := parseMap(strings.TrimPrefix(line, tagMap), base)
			if err != nil {
				return nil, err
			}
			currentMap = m
		case strings.HasPrefix(line, tagByteRange):
			br, err := parseByteRange(strings.TrimPrefix(line, tagByteRange))
			if err != nil {
				return nil, err
			}
			pendingRange = br
		case strings.HasPrefix(line, tagInf):
			value := strings.TrimPrefix(line, tagInf)
			if idx := strings.Index(value, ","); idx >= 0 {
				value = value[:idx]
			}
			d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad segment duration %q", line)
			}
			duration = d
			haveDuration = true
		case strings.HasPrefix(line, "#"):
			logrus.Debugf("Skipping unknown playlist tag %q", line)
		default:
			if !haveDuration {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "segment uri %q without EXTINF", line)
			}
			uri, err := resolve(base, line)
			if err != nil {
				return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad segment uri %q", line)
			}

			seg := htypes.Segment{
				Num:           p.MediaSequence + int64(len(p.Segments)),
				URI:           uri,
				Duration:      duration,
				Discontinuity: discontinuity,
				Key:           currentKey,
				Map:           currentMap,
			}
			if pendingRange != nil {
				if pendingRange.Offset < 0 {
					// Offset omitted: continue from the previous range
					// of the same resource.
					if prevSeg == nil || prevSeg.ByteRange == nil || prevSeg.URI != uri {
						return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "byterange without offset has no predecessor for %q", line)
					}
					pendingRange.Offset = prevSeg.ByteRange.End()
				}
				seg.ByteRange = pendingRange
			}

			p.Segments = append(p.Segments, seg)
			prevSeg = &p.Segments[len(p.Segments)-1]
			duration, haveDuration = 0, false
			discontinuity = false
			pendingRange = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot scan playlist")
	}

	if !sawHeader {
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "empty document")
	}
	if !sawTargetDuration {
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "missing %s", strings.TrimSuffix(tagTargetDuration, ":"))
	}

	return p, nil
}

func parseKey(value string, base *url.URL) (*htypes.Key, error) {
	attrs := parseAttrs(value)

	method := htypes.KeyMethod(attrs["METHOD"])
	switch method {
	case htypes.KeyMethodNone:
		return nil, nil
	case htypes.KeyMethodAES128:
	default:
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "unsupported key method %q", attrs["METHOD"])
	}

	uri, err := resolve(base, attrs["URI"])
	if err != nil || attrs["URI"] == "" {
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad key uri %q", attrs["URI"])
	}

	key := &htypes.Key{Method: method, URI: uri}
	if raw, ok := attrs["IV"]; ok {
		iv, err := parseIV(raw)
		if err != nil {
			return nil, err
		}
		key.IV = iv
	}
	return key, nil
}

func parseIV(raw string) ([]byte, error) {
	hexPart := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(hexPart)%2 == 1 {
		hexPart = "0" + hexPart
	}
	decoded, err := hex.DecodeString(hexPart)
	if err != nil || len(decoded) > htypes.IVSize {
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad IV %q", raw)
	}
	iv := make([]byte, htypes.IVSize)
	copy(iv[htypes.IVSize-len(decoded):], decoded)
	return iv, nil
}

func parseMap(value string, base *url.URL) (*htypes.MapRef, error) {
	attrs := parseAttrs(value)

	uri, err := resolve(base, attrs["URI"])
	if err != nil || attrs["URI"] == "" {
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad map uri %q", attrs["URI"])
	}
	m := &htypes.MapRef{URI: uri}

	if raw, ok := attrs["BYTERANGE"]; ok {
		br, err := parseByteRange(raw)
		if err != nil {
			return nil, err
		}
		if br.Offset < 0 {
			br.Offset = 0
		}
		m.ByteRange = br
	}
	return m, nil
}

// parseByteRange parses "<length>[@<offset>]". A missing offset is
// reported as -1 for the caller to resolve.
func parseByteRange(value string) (*htypes.ByteRange, error) {
	parts := strings.SplitN(value, "@", 2)
	length, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || length <= 0 {
		return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad byterange %q", value)
	}
	br := &htypes.ByteRange{Offset: -1, Length: length}
	if len(parts) == 2 {
		offset, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || offset < 0 {
			return nil, errors.Wrapf(htypes.ErrMalformedPlaylist, "bad byterange offset %q", value)
		}
		br.Offset = offset
	}
	return br, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base == nil {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}

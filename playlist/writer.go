package playlist

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/hlsget/hlsget/htypes"
)

// Encode serializes a playlist back into document form. Encode and
// Parse agree: parsing the output yields an equal Playlist.
func Encode(p *Playlist) []byte {
	var buf bytes.Buffer

	buf.WriteString(tagHeader + "\n")
	if p.Version != 0 {
		fmt.Fprintf(&buf, "%s%d\n", tagVersion, p.Version)
	}
	fmt.Fprintf(&buf, "%s%d\n", tagTargetDuration, p.TargetDuration)
	if p.MediaSequence != 0 {
		fmt.Fprintf(&buf, "%s%d\n", tagMediaSequence, p.MediaSequence)
	}
	if p.DiscontinuitySequence != 0 {
		fmt.Fprintf(&buf, "%s%d\n", tagDiscontinuitySequence, p.DiscontinuitySequence)
	}
	if p.Type != TypeNone {
		fmt.Fprintf(&buf, "%s%s\n", tagPlaylistType, p.Type)
	}
	if p.IFramesOnly {
		buf.WriteString(tagIFramesOnly + "\n")
	}

	var (
		lastKey *htypes.Key
		lastMap *htypes.MapRef
	)
	for i := range p.Segments {
		seg := &p.Segments[i]

		if seg.Discontinuity {
			buf.WriteString(tagDiscontinuity + "\n")
		}
		if !sameKey(lastKey, seg.Key) {
			buf.WriteString(tagKey + encodeKey(seg.Key) + "\n")
			lastKey = seg.Key
		}
		if seg.Map != nil && !seg.Map.SameAs(lastMap) {
			buf.WriteString(tagMap + encodeMap(seg.Map) + "\n")
			lastMap = seg.Map
		}
		if seg.ByteRange != nil {
			fmt.Fprintf(&buf, "%s%d@%d\n", tagByteRange, seg.ByteRange.Length, seg.ByteRange.Offset)
		}
		fmt.Fprintf(&buf, "%s%s,\n%s\n", tagInf, strconv.FormatFloat(seg.Duration, 'f', -1, 64), seg.URI)
	}

	if p.EndList {
		buf.WriteString(tagEndList + "\n")
	}
	return buf.Bytes()
}

func sameKey(a, b *htypes.Key) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Method == b.Method && a.URI == b.URI && bytes.Equal(a.IV, b.IV)
}

func encodeKey(k *htypes.Key) string {
	if k == nil {
		return "METHOD=NONE"
	}
	s := fmt.Sprintf("METHOD=%s,URI=%q", k.Method, k.URI)
	if len(k.IV) != 0 {
		s += ",IV=0x" + hex.EncodeToString(k.IV)
	}
	return s
}

func encodeMap(m *htypes.MapRef) string {
	s := fmt.Sprintf("URI=%q", m.URI)
	if m.ByteRange != nil {
		s += fmt.Sprintf(",BYTERANGE=%q", fmt.Sprintf("%d@%d", m.ByteRange.Length, m.ByteRange.Offset))
	}
	return s
}

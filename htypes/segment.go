package htypes

import (
	"encoding/binary"
	"fmt"
)

type KeyMethod string

const (
	KeyMethodNone   KeyMethod = "NONE"
	KeyMethodAES128 KeyMethod = "AES-128"

	KeySize = 16
	IVSize  = 16
)

// ByteRange addresses a sub-range of a segment resource.
type ByteRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

func (br ByteRange) HeaderValue() string {
	return fmt.Sprintf("bytes=%d-%d", br.Offset, br.Offset+br.Length-1)
}

func (br ByteRange) End() int64 {
	return br.Offset + br.Length
}

// Key describes how a segment payload is encrypted. IV may be nil, in
// which case it is derived from the segment sequence number.
type Key struct {
	Method KeyMethod `json:"method"`
	URI    string    `json:"uri"`
	IV     []byte    `json:"iv"`
}

func (k *Key) Encrypted() bool {
	return k != nil && k.Method != KeyMethodNone && k.Method != ""
}

// MapRef points at an initialization section that must precede the
// payload of every segment referencing it.
type MapRef struct {
	URI       string     `json:"uri"`
	ByteRange *ByteRange `json:"byterange"`
}

func (m *MapRef) CacheKey() string {
	if m.ByteRange != nil {
		return fmt.Sprintf("%s@%d+%d", m.URI, m.ByteRange.Offset, m.ByteRange.Length)
	}
	return m.URI
}

// SameAs reports whether two map references address the same bytes.
func (m *MapRef) SameAs(rhs *MapRef) bool {
	if m == nil || rhs == nil {
		return m == rhs
	}
	return m.CacheKey() == rhs.CacheKey()
}

// Segment is one media segment of a playlist snapshot. Immutable once
// built by the parser.
type Segment struct {
	Num           int64      `json:"num"`
	URI           string     `json:"uri"`
	Duration      float64    `json:"duration"`
	ByteRange     *ByteRange `json:"byterange"`
	Key           *Key       `json:"key"`
	Discontinuity bool       `json:"disc"`
	Map           *MapRef    `json:"map"`
}

// IV returns the effective initialization vector for this segment:
// the explicit one from the key tag, or the sequence number encoded
// big-endian into the low bytes of a zeroed 16 byte block.
func (s *Segment) IV() []byte {
	if s.Key != nil && len(s.Key.IV) == IVSize {
		return s.Key.IV
	}
	iv := make([]byte, IVSize)
	binary.BigEndian.PutUint64(iv[8:], uint64(s.Num))
	return iv
}

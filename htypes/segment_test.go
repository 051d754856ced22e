package htypes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hlsget/hlsget/htypes"
)

func TestDerivedIV(t *testing.T) {
	seg := &htypes.Segment{Num: 1}
	iv := seg.IV()
	want := make([]byte, 16)
	want[15] = 1
	assert.Equal(t, want, iv)

	seg = &htypes.Segment{Num: 0x0102}
	iv = seg.IV()
	assert.Equal(t, byte(0x01), iv[14])
	assert.Equal(t, byte(0x02), iv[15])
}

func TestExplicitIVWins(t *testing.T) {
	explicit := make([]byte, 16)
	explicit[0] = 0xff
	seg := &htypes.Segment{Num: 7, Key: &htypes.Key{Method: htypes.KeyMethodAES128, IV: explicit}}
	assert.Equal(t, explicit, seg.IV())
}

func TestByteRangeHeader(t *testing.T) {
	br := htypes.ByteRange{Offset: 100, Length: 50}
	assert.Equal(t, "bytes=100-149", br.HeaderValue())
	assert.Equal(t, int64(150), br.End())
}

func TestMapSameAs(t *testing.T) {
	a := &htypes.MapRef{URI: "http://x/init.mp4"}
	b := &htypes.MapRef{URI: "http://x/init.mp4"}
	c := &htypes.MapRef{URI: "http://x/init.mp4", ByteRange: &htypes.ByteRange{Offset: 0, Length: 100}}

	assert.True(t, a.SameAs(b))
	assert.False(t, a.SameAs(c))
	assert.False(t, a.SameAs(nil))
	var nilMap *htypes.MapRef
	assert.True(t, nilMap.SameAs(nil))
}

func TestKeyEncrypted(t *testing.T) {
	var k *htypes.Key
	assert.False(t, k.Encrypted())
	assert.False(t, (&htypes.Key{Method: htypes.KeyMethodNone}).Encrypted())
	assert.True(t, (&htypes.Key{Method: htypes.KeyMethodAES128}).Encrypted())
}

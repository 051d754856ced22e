package htypes

import (
	"github.com/pkg/errors"
)

// Error kinds of the streaming pipeline. Call sites wrap these with
// errors.Wrapf so the kind stays the cause of the chain.
var (
	ErrMalformedPlaylist   = errors.New("malformed playlist")
	ErrPlaylistUnavailable = errors.New("playlist unavailable")
	ErrSegmentUnavailable  = errors.New("segment unavailable")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrStreamTimeout       = errors.New("stream timeout")
	ErrStreamClosed        = errors.New("stream closed")
)

// IsKind reports whether err has kind as its root cause.
func IsKind(err error, kind error) bool {
	return errors.Cause(err) == kind
}

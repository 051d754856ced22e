package playlist

import (
	"github.com/hlsget/hlsget/htypes"
)

type PlaylistType string

const (
	TypeNone  PlaylistType = ""
	TypeEvent PlaylistType = "EVENT"
	TypeVod   PlaylistType = "VOD"
)

// Playlist is one snapshot of a media playlist. Successive snapshots
// from the same URL never move MediaSequence backwards; segments with
// equal nums keep their URI and duration.
type Playlist struct {
	Version               int
	TargetDuration        int
	MediaSequence         int64
	DiscontinuitySequence int64
	Type                  PlaylistType
	IFramesOnly           bool
	EndList               bool
	Segments              []htypes.Segment
}

func (p *Playlist) Last() *htypes.Segment {
	if len(p.Segments) == 0 {
		return nil
	}
	return &p.Segments[len(p.Segments)-1]
}

// SegmentsAfter returns the segments with num strictly greater than
// the given sequence number.
func (p *Playlist) SegmentsAfter(num int64) []htypes.Segment {
	for i := range p.Segments {
		if p.Segments[i].Num > num {
			return p.Segments[i:]
		}
	}
	return nil
}

// LiveEdge returns the segments starting at the edge-th one counted
// from the end, clamped to [1, len].
func (p *Playlist) LiveEdge(edge int) []htypes.Segment {
	if edge < 1 {
		edge = 1
	}
	if edge > len(p.Segments) {
		edge = len(p.Segments)
	}
	return p.Segments[len(p.Segments)-edge:]
}

// TotalDuration returns the summed segment durations in seconds.
func (p *Playlist) TotalDuration() float64 {
	total := 0.
	for i := range p.Segments {
		total += p.Segments[i].Duration
	}
	return total
}

package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/htypes"
	"github.com/hlsget/hlsget/playlist"
)

type workerState int

const (
	stateInit workerState = iota
	stateLive
	stateVod
	stateDraining
	stateStopped
)

func (s workerState) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateLive:
		return "LIVE"
	case stateVod:
		return "VOD"
	case stateDraining:
		return "DRAINING"
	default:
		return "STOPPED"
	}
}

const minReloadWait = 500 * time.Millisecond

// worker drives the pipeline: it reloads the playlist, enqueues newly
// published segments in order and closes the queue exactly once when
// the stream ends.
type worker struct {
	config  Config
	fetcher *playlist.Fetcher
	queue   chan<- *htypes.Segment
	fatal   func(error)

	state    workerState
	lastNum  int64
	started  bool
	lastDisc int64

	enqueuedDuration float64
	offsetSkipped    float64
}

func newWorker(config Config, fetcher *playlist.Fetcher, queue chan<- *htypes.Segment, fatal func(error)) *worker {
	return &worker{
		config:  config,
		fetcher: fetcher,
		queue:   queue,
		fatal:   fatal,
	}
}

func (w *worker) log() *logrus.Entry {
	return logrus.WithField("worker_state", w.state.String())
}

// run owns the queue and is the only goroutine closing it, so the
// end-of-stream sentinel fires exactly once.
func (w *worker) run(ctx context.Context) {
	defer close(w.queue)

	var current *playlist.Playlist

	for {
		if ctx.Err() != nil {
			w.state = stateStopped
			return
		}

		pl, notModified, err := w.fetcher.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.state = stateStopped
				return
			}
			w.log().Errorf("Playlist reload failed: %+v", err)
			w.fatal(err)
			w.state = stateStopped
			return
		}

		newSegments := 0
		if !notModified {
			w.transition(pl)
			current = pl

			segs := w.selectSegments(pl)
			newSegments = len(segs)
			for i := range segs {
				if !w.enqueue(ctx, &segs[i]) {
					w.state = stateStopped
					return
				}
				if w.durationDone() {
					w.log().Infof("Requested duration enqueued, stopping")
					w.state = stateStopped
					return
				}
			}

			if pl.EndList {
				w.state = stateStopped
				return
			}
		}

		if !w.sleep(ctx, w.reloadWait(current, newSegments == 0)) {
			w.state = stateStopped
			return
		}
	}
}

func (w *worker) transition(pl *playlist.Playlist) {
	switch w.state {
	case stateInit:
		if pl.EndList {
			w.state = stateVod
		} else {
			w.state = stateLive
		}
		w.lastDisc = pl.DiscontinuitySequence
		w.log().Infof("First playlist: %d segments, %.1fs total, media sequence %d", len(pl.Segments), pl.TotalDuration(), pl.MediaSequence)
	case stateLive:
		if pl.EndList {
			w.state = stateDraining
			w.log().Info("Endlist observed, draining")
		}
	}

	if pl.DiscontinuitySequence > w.lastDisc+1 {
		w.log().Warnf("Discontinuity sequence jumped from %d to %d", w.lastDisc, pl.DiscontinuitySequence)
	}
	w.lastDisc = pl.DiscontinuitySequence
}

// selectSegments picks what to enqueue from the snapshot: everything
// for VOD, the live edge on the first live playlist, and strictly new
// nums afterwards.
func (w *worker) selectSegments(pl *playlist.Playlist) []htypes.Segment {
	if !w.started {
		if w.state == stateVod {
			return w.applyStartOffset(pl.Segments)
		}
		edge := w.config.LiveEdge - 1
		if edge < 1 {
			edge = 1
		}
		return pl.LiveEdge(edge)
	}

	last := pl.Last()
	if last == nil {
		return nil
	}

	if last.Num < w.lastNum {
		// Sequence numbers regressed: the server restarted its
		// numbering. Resume from the new live edge.
		w.log().Warnf("Media sequence regressed to %d (last enqueued %d), restarting from live edge", pl.MediaSequence, w.lastNum)
		edge := w.config.LiveEdge - 1
		if edge < 1 {
			edge = 1
		}
		return pl.LiveEdge(edge)
	}

	segs := pl.SegmentsAfter(w.lastNum)
	if len(segs) > 0 && segs[0].Num > w.lastNum+1 {
		w.log().Warnf("Gap in playlist: segments %d..%d dropped by server", w.lastNum+1, segs[0].Num-1)
		htypes.Stat(true, "playlist_reload", "gap", "")
	}
	return segs
}

func (w *worker) applyStartOffset(segs []htypes.Segment) []htypes.Segment {
	offset := w.config.StartOffset.Duration.Seconds()
	if offset <= 0 {
		return segs
	}
	for i := range segs {
		if w.offsetSkipped+segs[i].Duration > offset {
			return segs[i:]
		}
		w.offsetSkipped += segs[i].Duration
	}
	return nil
}

func (w *worker) enqueue(ctx context.Context, seg *htypes.Segment) bool {
	select {
	case w.queue <- seg:
		w.lastNum = seg.Num
		w.started = true
		w.enqueuedDuration += seg.Duration
		w.log().Debugf("Enqueued segment %d (%.3fs)", seg.Num, seg.Duration)
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *worker) durationDone() bool {
	limit := w.config.Duration.Duration.Seconds()
	return limit > 0 && w.enqueuedDuration >= limit
}

// reloadWait computes the delay before the next reload:
// min(targetduration, last segment duration), halved once when the
// previous reload brought nothing new, clamped to
// [minReloadWait, targetduration].
func (w *worker) reloadWait(pl *playlist.Playlist, empty bool) time.Duration {
	if pl == nil {
		return minReloadWait
	}

	target := time.Duration(pl.TargetDuration) * time.Second
	wait := target
	if w.config.PlaylistReloadTime.Duration > 0 {
		wait = w.config.PlaylistReloadTime.Duration
	} else if last := pl.Last(); last != nil {
		if d := time.Duration(last.Duration * float64(time.Second)); d < wait {
			wait = d
		}
	}

	if empty {
		wait /= 2
	}
	if wait < minReloadWait {
		wait = minReloadWait
	}
	if target > 0 && wait > target {
		wait = target
	}
	return wait
}

func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

package worker

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/buffer"
	"github.com/hlsget/hlsget/fetcher"
	"github.com/hlsget/hlsget/htypes"
	"github.com/hlsget/hlsget/vsync"
)

// poolEntry is one slot of the reorder table.
type poolEntry struct {
	seg  *htypes.Segment
	data []byte
	err  error
	done bool
}

func (e *poolEntry) Less(rhs btree.Item) bool {
	return e.seg.Num < rhs.(*poolEntry).seg.Num
}

// pool turns queued segments into ordered bytes. Up to W fetches run
// in parallel; results land in a btree keyed by num and a single
// drain cursor writes completed prefixes into the buffer. A slot's
// semaphore token is held from dispatch until drain, so both the
// in-flight fetches and the table occupancy stay bounded by W.
type pool struct {
	fetcher *fetcher.Fetcher
	buf     *buffer.Buffer
	sem     *vsync.Semaphore

	m       sync.Mutex
	cond    *sync.Cond
	table   *btree.BTree
	eof     bool
	stopped bool

	lastMap *htypes.MapRef
}

func newPool(threads int, f *fetcher.Fetcher, buf *buffer.Buffer) *pool {
	p := &pool{
		fetcher: f,
		buf:     buf,
		sem:     vsync.NewSemaphore(uint(threads), uint(threads)),
		table:   btree.New(2),
	}
	p.cond = sync.NewCond(&p.m)
	return p
}

// run dispatches fetches off the queue until it closes, then marks
// end of input for the drain cursor.
func (p *pool) run(ctx context.Context, queue <-chan *htypes.Segment) {
	var fetches sync.WaitGroup

	go func() {
		<-ctx.Done()
		p.m.Lock()
		p.stopped = true
		p.cond.Broadcast()
		p.m.Unlock()
	}()

	for seg := range queue {
		if !p.sem.AcquireStop(ctx.Done()) {
			break
		}

		entry := &poolEntry{seg: seg}
		p.m.Lock()
		p.table.ReplaceOrInsert(entry)
		p.m.Unlock()

		fetches.Add(1)
		go func(entry *poolEntry) {
			defer fetches.Done()
			data, err := p.fetcher.Fetch(ctx, entry.seg)

			p.m.Lock()
			entry.data, entry.err = data, err
			entry.done = true
			p.cond.Broadcast()
			p.m.Unlock()
		}(entry)
	}

	fetches.Wait()
	p.m.Lock()
	p.eof = true
	p.cond.Broadcast()
	p.m.Unlock()
}

// drain advances the cursor through the reorder table, writing each
// completed next-in-order payload into the buffer. It closes the
// buffer on exit, which is what the reader observes as EOF.
func (p *pool) drain(ctx context.Context) {
	defer p.buf.Close()

	for {
		entry, ok := p.next()
		if !ok {
			return
		}

		if entry.err != nil {
			if htypes.IsKind(entry.err, htypes.ErrStreamClosed) {
				p.sem.Release()
				return
			}
			logrus.WithField("segment", entry.seg.Num).Warnf("Skipping segment: %+v", entry.err)
			htypes.Stat(true, "segment_write", "skipped", "")
			p.sem.Release()
			continue
		}

		if !p.writeSegment(ctx, entry) {
			p.sem.Release()
			return
		}
		p.sem.Release()
	}
}

// next blocks until the lowest-num slot completes, input ends with an
// empty table, or the pool is stopped.
func (p *pool) next() (*poolEntry, bool) {
	p.m.Lock()
	defer p.m.Unlock()

	for {
		if p.stopped {
			return nil, false
		}
		if p.table.Len() > 0 {
			entry := p.table.Min().(*poolEntry)
			if entry.done {
				p.table.DeleteMin()
				return entry, true
			}
		} else if p.eof {
			return nil, false
		}
		p.cond.Wait()
	}
}

// writeSegment prepends the initialization section when this segment's
// map differs from the previously written one, then streams the
// payload into the buffer.
func (p *pool) writeSegment(ctx context.Context, entry *poolEntry) bool {
	if !entry.seg.Map.SameAs(p.lastMap) {
		if entry.seg.Map != nil {
			init, err := p.fetcher.InitSection(ctx, entry.seg.Map)
			if err != nil {
				logrus.WithField("segment", entry.seg.Num).Warnf("Skipping segment, init section failed: %+v", err)
				htypes.Stat(true, "segment_write", "init_failed", entry.seg.Map.URI)
				return true
			}
			if _, err := p.buf.Write(init); err != nil {
				return false
			}
		}
		p.lastMap = entry.seg.Map
	}

	if _, err := p.buf.Write(entry.data); err != nil {
		logrus.WithField("segment", entry.seg.Num).Debugf("Buffer closed while writing: %v", err)
		return false
	}
	logrus.WithField("segment", entry.seg.Num).Debugf("Wrote %d bytes", len(entry.data))
	return true
}

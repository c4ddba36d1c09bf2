package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/documentmetadataflow/internal/metrics"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// SegmentConfig controls staging segment rotation.
type SegmentConfig struct {
	MaxRecords int
	MaxAge     time.Duration
	// NotifyOnRotate hands only sealed segments to the index. When false the
	// open segment is re-notified after every append.
	NotifyOnRotate bool
}

// PendingSegment is a segment with appends the index has not been told about.
// Version changes on every append so a notification that raced a newer
// append does not clear it.
type PendingSegment struct {
	Ref     models.SegmentRef
	Version uint64
	Sealed  bool
}

type openSegment struct {
	id     string
	opened time.Time
	count  int
	seen   map[string]*appendSlot
}

// appendSlot is one record's reservation in a segment. done closes once the
// staging write finished; failed reports whether it did not land.
type appendSlot struct {
	done   chan struct{}
	failed bool
}

type pendingState struct {
	version uint64
	sealed  bool
}

// Segmenter assigns batch records to staging segments and tracks which
// segments still need an index notification.
type Segmenter struct {
	staging StagingStore
	cfg     SegmentConfig
	now     func() time.Time
	metrics *metrics.Metrics

	mu      sync.Mutex
	current *openSegment
	pending map[string]*pendingState
}

// NewSegmenter creates a segmenter writing through staging.
func NewSegmenter(staging StagingStore, cfg SegmentConfig, opts ...Option) *Segmenter {
	if cfg.MaxRecords < 1 {
		cfg.MaxRecords = 1
	}
	o := applyOptions(opts)
	return &Segmenter{
		staging: staging,
		cfg:     cfg,
		now:     o.now,
		metrics: o.metrics,
		pending: make(map[string]*pendingState),
	}
}

// NewSegmentID names a segment so that IDs sort by creation time and never
// collide across instances.
func NewSegmentID(t time.Time) string {
	return t.UTC().Format("20060102T150405Z") + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Append writes line for recordID into the open segment, rotating first when
// the segment is full or too old. It returns the segment the record lives in.
// A concurrent append of the same record waits for the first one to land.
func (s *Segmenter) Append(ctx context.Context, recordID string, line []byte) (ref models.SegmentRef, created bool, err error) {
	for {
		s.mu.Lock()
		seg := s.current
		now := s.now()
		if seg == nil || seg.count >= s.cfg.MaxRecords || (s.cfg.MaxAge > 0 && now.Sub(seg.opened) >= s.cfg.MaxAge) {
			seg = s.rotateLocked(now)
		}
		if slot, dup := seg.seen[recordID]; dup {
			s.mu.Unlock()
			select {
			case <-slot.done:
			case <-ctx.Done():
				return models.SegmentRef{}, false, ctx.Err()
			}
			if slot.failed {
				continue
			}
			s.metrics.RecordAppend(false)
			return models.SegmentRef{ID: seg.id, URI: s.staging.SegmentURI(seg.id)}, false, nil
		}
		slot := &appendSlot{done: make(chan struct{})}
		seg.seen[recordID] = slot
		seg.count++
		s.mu.Unlock()

		created, err = s.staging.AppendRecord(ctx, seg.id, recordID, line)

		s.mu.Lock()
		if err != nil {
			slot.failed = true
			delete(seg.seen, recordID)
			seg.count--
		} else {
			s.markPendingLocked(seg.id, seg != s.current)
		}
		close(slot.done)
		s.mu.Unlock()

		if err != nil {
			return models.SegmentRef{}, false, fmt.Errorf("failed to append record %s to segment %s: %w", recordID, seg.id, err)
		}
		s.metrics.RecordAppend(created)
		return models.SegmentRef{ID: seg.id, URI: s.staging.SegmentURI(seg.id)}, created, nil
	}
}

// SealExpired rotates away the open segment when it has reached its maximum age.
func (s *Segmenter) SealExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.cfg.MaxAge <= 0 {
		return
	}
	if s.now().Sub(s.current.opened) >= s.cfg.MaxAge {
		s.sealLocked()
		s.current = nil
	}
}

// Pending lists segments awaiting notification, oldest first.
func (s *Segmenter) Pending() []PendingSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingSegment, 0, len(s.pending))
	for id, st := range s.pending {
		if s.cfg.NotifyOnRotate && !st.sealed {
			continue
		}
		out = append(out, PendingSegment{
			Ref:     models.SegmentRef{ID: id, URI: s.staging.SegmentURI(id)},
			Version: st.version,
			Sealed:  st.sealed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ID < out[j].Ref.ID })
	return out
}

// MarkNotified clears p unless the segment received appends since p was taken.
func (s *Segmenter) MarkNotified(p PendingSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.pending[p.Ref.ID]
	if ok && st.version == p.Version {
		delete(s.pending, p.Ref.ID)
	}
	s.metrics.PendingSegments.Set(float64(len(s.pending)))
}

// CurrentID returns the open segment ID, or "" when none is open.
func (s *Segmenter) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

func (s *Segmenter) rotateLocked(now time.Time) *openSegment {
	s.sealLocked()
	s.current = &openSegment{
		id:     NewSegmentID(now),
		opened: now,
		seen:   make(map[string]*appendSlot),
	}
	return s.current
}

func (s *Segmenter) sealLocked() {
	if s.current == nil {
		return
	}
	if st, ok := s.pending[s.current.id]; ok {
		st.sealed = true
	}
}

func (s *Segmenter) markPendingLocked(id string, sealed bool) {
	st, ok := s.pending[id]
	if !ok {
		st = &pendingState{}
		s.pending[id] = st
	}
	st.version++
	st.sealed = st.sealed || sealed
	s.metrics.PendingSegments.Set(float64(len(s.pending)))
}

// Package tracker maintains the locally known canonical chain segment and
// detects reorganizations against it.
//
// The segment is a bounded ring of contiguous heights, most recent last, so a
// block is found by index arithmetic from the oldest retained height. The
// tracker never decides fork choice: the reader's current chain is always
// authoritative and Observe only reports how to reconcile with it. State is
// changed only through Rewind and Push, which callers invoke after the
// corresponding commit is durable.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// Kind classifies the outcome of observing a block.
type Kind int

const (
	// Extend means the block links to the current tip.
	Extend Kind = iota + 1
	// Duplicate means the block is already recorded.
	Duplicate
	// Reorg means recorded blocks must be undone before the block applies.
	Reorg
)

func (k Kind) String() string {
	switch k {
	case Extend:
		return "extend"
	case Duplicate:
		return "duplicate"
	case Reorg:
		return "reorg"
	default:
		return "unknown"
	}
}

// Outcome describes how an observed block relates to the segment.
type Outcome struct {
	Kind Kind
	// AncestorHeight is the highest block shared with the reader's chain.
	AncestorHeight uint64
	// Diverged lists recorded blocks to undo, most recent first.
	Diverged []model.SegmentBlock
	// Branch lists the reader's blocks between the ancestor and the observed
	// block, oldest first.
	Branch []model.BlockRef
}

// Depth returns the number of recorded blocks undone by the outcome.
func (o Outcome) Depth() int {
	return len(o.Diverged)
}

// Ancestry resolves the reader's blocks by hash during a backward walk.
type Ancestry interface {
	HeaderByHash(ctx context.Context, hash common.Hash) (model.BlockRef, error)
}

// Tracker is the canonical chain tracker. It is not safe for concurrent use.
type Tracker struct {
	ring     []model.SegmentBlock
	start    int
	size     int
	maxDepth int
}

// New creates a tracker keeping window blocks and tolerating reorgs up to
// maxDepth blocks deep.
func New(window, maxDepth int) (*Tracker, error) {
	if maxDepth < 1 {
		return nil, errors.New("max reorg depth must be positive")
	}
	if window <= maxDepth {
		return nil, fmt.Errorf("reorg window %d must exceed max reorg depth %d", window, maxDepth)
	}
	return &Tracker{
		ring:     make([]model.SegmentBlock, window),
		maxDepth: maxDepth,
	}, nil
}

// Load replaces the segment with blocks ordered oldest first. Only the most
// recent window blocks are kept.
func (t *Tracker) Load(blocks []model.SegmentBlock) error {
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1].Ref, blocks[i].Ref
		if cur.Height != prev.Height+1 || cur.ParentHash != prev.Hash {
			return fmt.Errorf("segment broken between %s and %s: %w", prev, cur, model.ErrGap)
		}
	}
	t.start, t.size = 0, 0
	if len(blocks) > len(t.ring) {
		blocks = blocks[len(blocks)-len(t.ring):]
	}
	for _, b := range blocks {
		t.Push(b)
	}
	return nil
}

// Len returns the number of recorded blocks.
func (t *Tracker) Len() int {
	return t.size
}

// Empty reports whether no blocks are recorded.
func (t *Tracker) Empty() bool {
	return t.size == 0
}

// Tip returns the most recent block.
func (t *Tracker) Tip() (model.BlockRef, bool) {
	if t.size == 0 {
		return model.BlockRef{}, false
	}
	return t.index(t.size - 1).Ref, true
}

// Oldest returns the oldest retained block.
func (t *Tracker) Oldest() (model.BlockRef, bool) {
	if t.size == 0 {
		return model.BlockRef{}, false
	}
	return t.index(0).Ref, true
}

// At returns the recorded block at height.
func (t *Tracker) At(height uint64) (model.SegmentBlock, bool) {
	if t.size == 0 {
		return model.SegmentBlock{}, false
	}
	oldest := t.index(0).Ref.Height
	if height < oldest || height-oldest >= uint64(t.size) {
		return model.SegmentBlock{}, false
	}
	return t.index(int(height - oldest)), true
}

// Blocks returns the segment oldest first.
func (t *Tracker) Blocks() []model.SegmentBlock {
	out := make([]model.SegmentBlock, t.size)
	for i := range out {
		out[i] = t.index(i)
	}
	return out
}

// PruneHeight returns the lowest height kept once block is pushed; blocks
// below it leave the undo window.
func (t *Tracker) PruneHeight(block model.BlockRef) uint64 {
	window := uint64(len(t.ring))
	if block.Height+1 <= window {
		return 0
	}
	return block.Height + 1 - window
}

// Observe classifies ref against the segment. It does not modify the
// tracker. For reorgs it walks backward through the segment and the reader's
// ancestry until the parent links agree.
func (t *Tracker) Observe(ctx context.Context, ref model.BlockRef, ancestry Ancestry) (Outcome, error) {
	tip, ok := t.Tip()
	if !ok {
		return Outcome{Kind: Extend}, nil
	}
	if rec, ok := t.At(ref.Height); ok && rec.Ref.Hash == ref.Hash {
		return Outcome{Kind: Duplicate}, nil
	}
	if ref.Height == tip.Height+1 && ref.ParentHash == tip.Hash {
		return Outcome{Kind: Extend, AncestorHeight: tip.Height}, nil
	}
	if ref.Height > tip.Height+1 {
		return Outcome{}, fmt.Errorf("block %s is ahead of tip %s: %w", ref, tip, model.ErrGap)
	}
	oldest, _ := t.Oldest()
	if ref.Height < oldest.Height {
		return Outcome{}, fmt.Errorf("block %s is below segment start %s: %w", ref, oldest, model.ErrGap)
	}

	var branch []model.BlockRef
	cursor := ref
	var ancestor uint64
	for {
		if cursor.Height == oldest.Height {
			// The oldest block's parent is no longer recorded, so its
			// parent hash is the only link left to compare.
			if depth := tip.Height - oldest.Height + 1; depth > uint64(t.maxDepth) {
				return Outcome{}, fmt.Errorf("reorg at %s deeper than %d blocks: %w", ref, t.maxDepth, model.ErrReorgTooDeep)
			}
			if oldest.Height == 0 || cursor.ParentHash != oldest.ParentHash {
				return Outcome{}, fmt.Errorf("parent of %s differs from parent of segment start %s: %w", cursor, oldest, model.ErrGap)
			}
			ancestor = oldest.Height - 1
			break
		}
		parentHeight := cursor.Height - 1
		if depth := tip.Height - parentHeight; depth > uint64(t.maxDepth) {
			return Outcome{}, fmt.Errorf("reorg at %s deeper than %d blocks: %w", ref, t.maxDepth, model.ErrReorgTooDeep)
		}
		local, ok := t.At(parentHeight)
		if !ok {
			return Outcome{}, fmt.Errorf("no recorded block at height %d for %s: %w", parentHeight, ref, model.ErrGap)
		}
		if local.Ref.Hash == cursor.ParentHash {
			ancestor = parentHeight
			break
		}
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		parent, err := ancestry.HeaderByHash(ctx, cursor.ParentHash)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve ancestor %s: %w", cursor.ParentHash, err)
		}
		if parent.Height != parentHeight || parent.Hash != cursor.ParentHash {
			return Outcome{}, fmt.Errorf("reader returned %s for parent of %s: %w", parent, cursor, model.ErrGap)
		}
		branch = append(branch, parent)
		cursor = parent
	}

	diverged := make([]model.SegmentBlock, 0, tip.Height-ancestor)
	for h := tip.Height; h > ancestor; h-- {
		b, _ := t.At(h)
		diverged = append(diverged, b)
	}
	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}
	return Outcome{
		Kind:           Reorg,
		AncestorHeight: ancestor,
		Diverged:       diverged,
		Branch:         branch,
	}, nil
}

// Rewind drops recorded blocks above height.
func (t *Tracker) Rewind(height uint64) {
	for t.size > 0 {
		tip := t.index(t.size - 1).Ref
		if tip.Height <= height {
			return
		}
		t.ring[(t.start+t.size-1)%len(t.ring)] = model.SegmentBlock{}
		t.size--
	}
}

// Push appends block as the new tip, evicting the oldest block when the
// window is full.
func (t *Tracker) Push(block model.SegmentBlock) {
	if t.size == len(t.ring) {
		t.ring[t.start] = model.SegmentBlock{}
		t.start = (t.start + 1) % len(t.ring)
		t.size--
	}
	t.ring[(t.start+t.size)%len(t.ring)] = block
	t.size++
}

func (t *Tracker) index(i int) model.SegmentBlock {
	return t.ring[(t.start+i)%len(t.ring)]
}

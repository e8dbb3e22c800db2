// Package forest implements inference over a flat-array encoded ensemble of
// shallow binary decision trees. The encoding comes from an external training
// step: per-tree internal node counts plus five parallel byte arrays holding
// comparison feature indices, comparison thresholds, left/right child ids and
// leaf values. A node id packs a leaf flag into the high bit, so a single tree
// can never hold more than 127 internal nodes.
//
// The package validates the encoding once at load time and keeps the forest
// immutable afterwards, so a validated Forest is safe to share across any
// number of concurrent predictions.
package forest

import (
	"errors"
	"fmt"
)

// MaxTreeNodes is the largest internal node count a single tree can declare.
// The limit follows from the node id encoding: the high bit is the leaf flag,
// leaving 7 bits for the index.
const MaxTreeNodes = 127

var (
	// ErrMalformedForest reports a structural defect in the encoded bundle:
	// a tree size outside [1, 127] or segment offsets overrunning an array.
	ErrMalformedForest = errors.New("malformed forest")

	// ErrTraversalOutOfBounds reports a decoded node id or feature index that
	// falls outside the declared bounds of the tree being walked.
	ErrTraversalOutOfBounds = errors.New("traversal out of bounds")

	// ErrTraversalCycle reports a traversal that exceeded its step bound,
	// which only happens when child pointers form a cycle.
	ErrTraversalCycle = errors.New("traversal cycle detected")
)

// Bundle holds the raw flat arrays produced by the external encoder. TreeSizes
// carries one internal-node count per tree; the four node arrays are
// partitioned into contiguous per-tree segments of that many entries, and
// LeafValues into segments of one entry more (n internal nodes have n+1
// leaves).
type Bundle struct {
	TreeSizes    []byte
	FeatureIndex []byte
	Threshold    []byte
	LeftChild    []byte
	RightChild   []byte
	LeafValues   []byte
}

// segment is the materialized offset bookkeeping for one tree. Building these
// once at load time replaces repeated prefix-sum recomputation with O(1)
// lookups during traversal.
type segment struct {
	nodeBase  int
	nodeCount int
	leafBase  int
	leafCount int
}

// Forest is an immutable, validated view over a Bundle.
type Forest struct {
	bundle   Bundle
	segments []segment
}

// New validates the bundle and builds the per-tree segment table.
// It walks every TreeSizes entry, asserting 1 <= size <= 127, and checks that
// the cumulative node and leaf offsets stay inside the backing arrays.
// Returns ErrMalformedForest with the offending tree ordinal otherwise.
func New(b Bundle) (*Forest, error) {
	if len(b.TreeSizes) == 0 {
		return nil, fmt.Errorf("%w: empty tree size table", ErrMalformedForest)
	}

	segments := make([]segment, len(b.TreeSizes))
	nodeBase, leafBase := 0, 0
	for t, size := range b.TreeSizes {
		n := int(size)
		if n < 1 || n > MaxTreeNodes {
			return nil, fmt.Errorf("%w: tree %d declares %d internal nodes, want 1..%d",
				ErrMalformedForest, t, n, MaxTreeNodes)
		}

		seg := segment{
			nodeBase:  nodeBase,
			nodeCount: n,
			leafBase:  leafBase,
			leafCount: n + 1,
		}
		if err := checkSegmentBounds(b, t, seg); err != nil {
			return nil, err
		}

		segments[t] = seg
		nodeBase += n
		leafBase += n + 1
	}

	return &Forest{bundle: b, segments: segments}, nil
}

func checkSegmentBounds(b Bundle, t int, seg segment) error {
	nodeEnd := seg.nodeBase + seg.nodeCount
	for _, arr := range []struct {
		name string
		n    int
	}{
		{"feature index", len(b.FeatureIndex)},
		{"threshold", len(b.Threshold)},
		{"left child", len(b.LeftChild)},
		{"right child", len(b.RightChild)},
	} {
		if nodeEnd > arr.n {
			return fmt.Errorf("%w: tree %d node segment [%d, %d) overruns %s array of length %d",
				ErrMalformedForest, t, seg.nodeBase, nodeEnd, arr.name, arr.n)
		}
	}

	if leafEnd := seg.leafBase + seg.leafCount; leafEnd > len(b.LeafValues) {
		return fmt.Errorf("%w: tree %d leaf segment [%d, %d) overruns leaf value array of length %d",
			ErrMalformedForest, t, seg.leafBase, leafEnd, len(b.LeafValues))
	}
	return nil
}

// NumTrees returns the number of trees in forest-construction order.
func (f *Forest) NumTrees() int {
	return len(f.segments)
}

// Segment returns the node and leaf segment bounds for the given tree ordinal.
func (f *Forest) Segment(tree int) (nodeBase, nodeCount, leafBase, leafCount int, err error) {
	if tree < 0 || tree >= len(f.segments) {
		return 0, 0, 0, 0, fmt.Errorf("%w: tree ordinal %d outside [0, %d)",
			ErrMalformedForest, tree, len(f.segments))
	}
	s := f.segments[tree]
	return s.nodeBase, s.nodeCount, s.leafBase, s.leafCount, nil
}

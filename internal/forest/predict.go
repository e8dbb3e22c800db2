package forest

import (
	"fmt"
)

// Predictor walks every tree of a validated forest for one feature vector and
// returns the class with the highest vote total. It keeps no state across
// calls; the vote tally lives on the stack of a single Predict invocation, so
// one Predictor may serve concurrent callers.
type Predictor struct {
	forest        *Forest
	classes       int
	treesPerClass int
}

// NewPredictor binds a validated forest to its class geometry. Trees are
// ordered class-major: all treesPerClass trees of class 0 first, then class 1,
// and so on, which must account for every tree in the forest.
func NewPredictor(f *Forest, classes, treesPerClass int) (*Predictor, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil forest", ErrMalformedForest)
	}
	if classes < 1 || treesPerClass < 1 {
		return nil, fmt.Errorf("%w: class geometry %dx%d", ErrMalformedForest, classes, treesPerClass)
	}
	// Leaf values are bytes and the tally is uint16, so the per-class sum must
	// stay below 65536 even when every leaf votes 255.
	if treesPerClass > 257 {
		return nil, fmt.Errorf("%w: %d trees per class would overflow the vote tally", ErrMalformedForest, treesPerClass)
	}
	if classes*treesPerClass != f.NumTrees() {
		return nil, fmt.Errorf("%w: geometry %dx%d does not match %d encoded trees",
			ErrMalformedForest, classes, treesPerClass, f.NumTrees())
	}
	return &Predictor{forest: f, classes: classes, treesPerClass: treesPerClass}, nil
}

// Classes returns the number of output classes.
func (p *Predictor) Classes() int { return p.classes }

// TreesPerClass returns the number of trees voting for each class.
func (p *Predictor) TreesPerClass() int { return p.treesPerClass }

// Predict classifies one feature vector and returns the winning class index.
func (p *Predictor) Predict(features []byte) (int, error) {
	class, _, err := p.PredictVotes(features)
	return class, err
}

// PredictVotes classifies one feature vector and also returns the per-class
// vote totals. Ties resolve to the lowest class index: a later class must
// strictly exceed the running maximum to win. Callers own the returned slice.
func (p *Predictor) PredictVotes(features []byte) (int, []uint16, error) {
	votes := make([]uint16, p.classes)

	tree := 0
	for c := 0; c < p.classes; c++ {
		for j := 0; j < p.treesPerClass; j++ {
			value, err := p.walkTree(tree, features)
			if err != nil {
				return 0, nil, err
			}
			votes[c] += uint16(value)
			tree++
		}
	}

	best := 0
	for c := 1; c < p.classes; c++ {
		if votes[c] > votes[best] {
			best = c
		}
	}
	return best, votes, nil
}

// walkTree follows comparison outcomes from the root until a leaf-flagged id
// is reached and returns that leaf's value. A tree with n internal nodes
// cannot take more than n steps without revisiting a node, so the loop is
// bounded by n+1 iterations and a corrupted forest surfaces as
// ErrTraversalCycle instead of hanging.
func (p *Predictor) walkTree(tree int, features []byte) (byte, error) {
	b := &p.forest.bundle
	nodeBase, nodeCount, leafBase, leafCount, err := p.forest.Segment(tree)
	if err != nil {
		return 0, err
	}

	ref := nodeRef{} // root is internal node 0, guaranteed by validation
	for step := 0; ; step++ {
		if step > nodeCount {
			return 0, fmt.Errorf("%w: tree %d exceeded %d steps", ErrTraversalCycle, tree, nodeCount+1)
		}

		off := nodeBase + ref.index
		featureIdx := int(b.FeatureIndex[off])
		if featureIdx >= len(features) {
			return 0, fmt.Errorf("%w: tree %d node %d compares feature %d, vector has %d",
				ErrTraversalOutOfBounds, tree, ref.index, featureIdx, len(features))
		}

		var child byte
		if features[featureIdx] < b.Threshold[off] {
			child = b.LeftChild[off]
		} else {
			child = b.RightChild[off]
		}

		ref = decodeNode(child)
		if ref.leaf {
			if ref.index >= leafCount {
				return 0, fmt.Errorf("%w: tree %d child 0x%02x names leaf %d, tree has %d leaves",
					ErrTraversalOutOfBounds, tree, child, ref.index, leafCount)
			}
			return b.LeafValues[leafBase+ref.index], nil
		}
		if ref.index >= nodeCount {
			return 0, fmt.Errorf("%w: tree %d child 0x%02x names node %d, tree has %d nodes",
				ErrTraversalOutOfBounds, tree, child, ref.index, nodeCount)
		}
	}
}

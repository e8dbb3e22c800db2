package forest

// leafFlag marks a node id as a leaf; the low 7 bits are then an index into
// the tree's leaf segment instead of its node segment.
const leafFlag = 0x80

// nodeRef is a decoded node id. Decoding the bit-packed byte once per step
// keeps the high-bit trick out of the traversal logic and lets bounds checks
// name the kind of index they reject.
type nodeRef struct {
	leaf  bool
	index int
}

func decodeNode(id byte) nodeRef {
	return nodeRef{
		leaf:  id&leafFlag != 0,
		index: int(id &^ leafFlag),
	}
}

// LeafID encodes a leaf index into the wire form used by the child arrays.
// The index must fit in 7 bits; encoders and test fixtures use this to build
// child pointers that terminate a tree.
func LeafID(index int) byte {
	return leafFlag | byte(index&0x7F)
}

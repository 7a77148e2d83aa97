// Package framepoint holds the leaf observation types (Keypoint, Descriptor)
// shared by triangulation and tracking. The FramePoint type itself lives in
// pkg/worldmap, next to the Frame it back-references.
package framepoint

import "math/bits"

// Keypoint is a detected 2D feature location, matching the image-pipeline
// collaborator's output contract: pixel row/column, detector response, and
// pyramid octave.
type Keypoint struct {
	Row, Col float64
	Response float32
	Octave   int
}

// Descriptor is a fixed-width binary descriptor (e.g. ORB's 256 bits),
// stored packed as bytes.
type Descriptor []byte

// HammingDistance counts differing bits between two descriptors of equal
// length. Matching logic in triangulation/tracking treats a length mismatch
// as maximally dissimilar rather than panicking, since it can only occur if
// the image pipeline mixes descriptor types.
func (d Descriptor) HammingDistance(other Descriptor) int {
	if len(d) != len(other) {
		return len(d) * 8
	}
	dist := 0
	for i := range d {
		dist += bits.OnesCount8(d[i] ^ other[i])
	}
	return dist
}

// Equal reports whether two descriptors are bit-identical, used by
// landmark appearance dedup before falling back to a distance threshold.
func (d Descriptor) Equal(other Descriptor) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy, since descriptors are frequently
// retained past the lifetime of the buffer that produced them (appearance
// history, landmark state).
func (d Descriptor) Clone() Descriptor {
	if d == nil {
		return nil
	}
	c := make(Descriptor, len(d))
	copy(c, d)
	return c
}

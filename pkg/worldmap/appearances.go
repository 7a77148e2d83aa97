package worldmap

import (
	"github.com/itohio/proslam/pkg/framepoint"
	"gorgonia.org/tensor"
)

// Appearances is a landmark's deduplicated history of observed descriptors,
// stored as a (n, descriptorBytes) uint8 tensor.Dense that grows one row per
// accepted descriptor. The dense backing is the batch shape a
// place-recognition backend consumes; dedup scans it row-wise.
type Appearances struct {
	dense *tensor.Dense
	cols  int
}

// Add inserts d if no existing appearance is within maxDistance Hamming
// distance. Returns true if it was added. All descriptors in one set must
// share a width; a mismatch means the image pipeline mixed descriptor types.
func (a *Appearances) Add(d framepoint.Descriptor, maxDistance int) bool {
	for i := 0; i < a.Len(); i++ {
		row := a.Row(i)
		if row.Equal(d) {
			return false
		}
		if row.HammingDistance(d) <= maxDistance {
			return false
		}
	}

	row := tensor.New(tensor.WithBacking([]byte(d.Clone())), tensor.WithShape(1, len(d)))
	if a.dense == nil {
		a.cols = len(d)
		a.dense = row
		return true
	}
	stacked, err := a.dense.Vstack(row)
	if err != nil {
		violate("landmark.appearance_width", "descriptor width %d does not match set width %d", len(d), a.cols)
	}
	a.dense = stacked
	return true
}

func (a *Appearances) Len() int {
	if a.dense == nil {
		return 0
	}
	return a.dense.Shape()[0]
}

// Row returns the i-th appearance as a view into the dense backing. Callers
// must not mutate it.
func (a *Appearances) Row(i int) framepoint.Descriptor {
	flat := a.dense.Data().([]byte)
	return framepoint.Descriptor(flat[i*a.cols : (i+1)*a.cols])
}

// Each visits every appearance in insertion order.
func (a *Appearances) Each(f func(framepoint.Descriptor)) {
	for i := 0; i < a.Len(); i++ {
		f(a.Row(i))
	}
}

// Dense exposes the backing tensor. Returns nil if there are no appearances
// yet.
func (a *Appearances) Dense() *tensor.Dense { return a.dense }

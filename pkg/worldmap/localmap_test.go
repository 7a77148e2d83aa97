package worldmap

import (
	"testing"

	"github.com/itohio/proslam/pkg/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMapData_AddClosure_AppendsEdge(t *testing.T) {
	anchor := newFrame(5, nil, geometry.Identity(), 10)
	anchor.localMapData = &LocalMapData{Index: anchor.Identifier}

	reference := newFrame(0, nil, geometry.Identity(), 10)
	reference.localMapData = &LocalMapData{Index: reference.Identifier}

	anchor.localMapData.AddClosure(reference, geometry.Identity(), 0.9)

	require.Len(t, anchor.localMapData.Closures, 1)
	assert.Same(t, reference, anchor.localMapData.Closures[0].Reference)
	assert.InDelta(t, 0.9, anchor.localMapData.Closures[0].Confidence, 1e-9)
}

func TestLocalMapData_AddClosure_RejectsSelfClosure(t *testing.T) {
	anchor := newFrame(5, nil, geometry.Identity(), 10)
	anchor.localMapData = &LocalMapData{Index: anchor.Identifier}

	assert.Panics(t, func() {
		anchor.localMapData.AddClosure(anchor, geometry.Identity(), 1)
	})
}

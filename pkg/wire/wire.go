// Package wire serializes proslam.Snapshot for external consumers such as
// a visualization process. Since this module carries no .proto toolchain
// step, the message shapes below are hand-encoded against protobuf's own
// low-level wire primitives (google.golang.org/protobuf/encoding/protowire)
// rather than against generated message types: the same wire format a
// protoc-gen-go output would produce, without requiring codegen.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/itohio/proslam/pkg/geometry"
)

// Field numbers, one message per Go type below.
const (
	fieldSnapshotFrame     = 1
	fieldSnapshotLandmarks = 2

	fieldFrameIdentifier   = 1
	fieldFrameStatus       = 2
	fieldFrameRobotToWorld = 3

	fieldPoseRotation    = 1
	fieldPoseTranslation = 2

	fieldLandmarkIdentifier       = 1
	fieldLandmarkWorldCoordinates = 2
	fieldLandmarkIsOptimized      = 3
	fieldLandmarkIsClosed         = 4
)

// Frame is the wire shape of one snapshot frame.
type Frame struct {
	Identifier   uint64
	Status       int
	RobotToWorld geometry.Pose
}

// Landmark is the wire shape of one snapshot landmark.
type Landmark struct {
	Identifier       uint64
	WorldCoordinates geometry.Vec3
	IsOptimized      bool
	IsClosed         bool
}

// Snapshot is the wire shape of proslam.Snapshot.
type Snapshot struct {
	Frame     Frame
	Landmarks []Landmark
}

// Marshal encodes s in protobuf wire format.
func Marshal(s Snapshot) []byte {
	var b []byte
	frameBytes := marshalFrame(s.Frame)
	b = protowire.AppendTag(b, fieldSnapshotFrame, protowire.BytesType)
	b = protowire.AppendBytes(b, frameBytes)
	for _, l := range s.Landmarks {
		b = protowire.AppendTag(b, fieldSnapshotLandmarks, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalLandmark(l))
	}
	return b
}

func marshalFrame(f Frame) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFrameIdentifier, protowire.VarintType)
	b = protowire.AppendVarint(b, f.Identifier)
	b = protowire.AppendTag(b, fieldFrameStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Status))
	b = protowire.AppendTag(b, fieldFrameRobotToWorld, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalPose(f.RobotToWorld))
	return b
}

func marshalPose(p geometry.Pose) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPoseRotation, protowire.BytesType)
	var rot []byte
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot = protowire.AppendFixed64(rot, math.Float64bits(p.R[i][j]))
		}
	}
	b = protowire.AppendBytes(b, rot)
	b = protowire.AppendTag(b, fieldPoseTranslation, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalVec3(p.T))
	return b
}

func marshalVec3(v geometry.Vec3) []byte {
	var b []byte
	b = protowire.AppendFixed64(b, math.Float64bits(v.X))
	b = protowire.AppendFixed64(b, math.Float64bits(v.Y))
	b = protowire.AppendFixed64(b, math.Float64bits(v.Z))
	return b
}

func marshalLandmark(l Landmark) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLandmarkIdentifier, protowire.VarintType)
	b = protowire.AppendVarint(b, l.Identifier)
	b = protowire.AppendTag(b, fieldLandmarkWorldCoordinates, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalVec3(l.WorldCoordinates))
	b = protowire.AppendTag(b, fieldLandmarkIsOptimized, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(l.IsOptimized))
	b = protowire.AppendTag(b, fieldLandmarkIsClosed, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(l.IsClosed))
	return b
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// Unmarshal decodes a Snapshot previously produced by Marshal.
func Unmarshal(data []byte) (Snapshot, error) {
	var s Snapshot
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, fmt.Errorf("wire: invalid snapshot tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldSnapshotFrame:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, fmt.Errorf("wire: invalid frame field: %w", protowire.ParseError(n))
			}
			frame, err := unmarshalFrame(v)
			if err != nil {
				return s, err
			}
			s.Frame = frame
			b = b[n:]
		case fieldSnapshotLandmarks:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, fmt.Errorf("wire: invalid landmark field: %w", protowire.ParseError(n))
			}
			landmark, err := unmarshalLandmark(v)
			if err != nil {
				return s, err
			}
			s.Landmarks = append(s.Landmarks, landmark)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, fmt.Errorf("wire: skipping unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}

func unmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, fmt.Errorf("wire: invalid frame tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldFrameIdentifier:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: invalid frame identifier: %w", protowire.ParseError(n))
			}
			f.Identifier = v
			b = b[n:]
		case fieldFrameStatus:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: invalid frame status: %w", protowire.ParseError(n))
			}
			f.Status = int(v)
			b = b[n:]
		case fieldFrameRobotToWorld:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, fmt.Errorf("wire: invalid frame pose: %w", protowire.ParseError(n))
			}
			pose, err := unmarshalPose(v)
			if err != nil {
				return f, err
			}
			f.RobotToWorld = pose
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, fmt.Errorf("wire: skipping unknown frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f, nil
}

func unmarshalPose(data []byte) (geometry.Pose, error) {
	var p geometry.Pose
	p.R = geometry.Identity3()
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, fmt.Errorf("wire: invalid pose tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPoseRotation:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("wire: invalid pose rotation: %w", protowire.ParseError(n))
			}
			idx := 0
			rest := v
			for len(rest) > 0 && idx < 9 {
				bits, nn := protowire.ConsumeFixed64(rest)
				if nn < 0 {
					return p, fmt.Errorf("wire: invalid rotation element: %w", protowire.ParseError(nn))
				}
				p.R[idx/3][idx%3] = math.Float64frombits(bits)
				rest = rest[nn:]
				idx++
			}
			b = b[n:]
		case fieldPoseTranslation:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("wire: invalid pose translation: %w", protowire.ParseError(n))
			}
			vec, err := unmarshalVec3(v)
			if err != nil {
				return p, err
			}
			p.T = vec
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, fmt.Errorf("wire: skipping unknown pose field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return p, nil
}

func unmarshalVec3(data []byte) (geometry.Vec3, error) {
	var v geometry.Vec3
	vals := [3]float64{}
	rest := data
	for i := 0; i < 3 && len(rest) > 0; i++ {
		bits, n := protowire.ConsumeFixed64(rest)
		if n < 0 {
			return v, fmt.Errorf("wire: invalid vec3 element: %w", protowire.ParseError(n))
		}
		vals[i] = math.Float64frombits(bits)
		rest = rest[n:]
	}
	return geometry.Vec3FromArray(vals), nil
}

func unmarshalLandmark(data []byte) (Landmark, error) {
	var l Landmark
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return l, fmt.Errorf("wire: invalid landmark tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldLandmarkIdentifier:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return l, fmt.Errorf("wire: invalid landmark identifier: %w", protowire.ParseError(n))
			}
			l.Identifier = v
			b = b[n:]
		case fieldLandmarkWorldCoordinates:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return l, fmt.Errorf("wire: invalid landmark coordinates: %w", protowire.ParseError(n))
			}
			vec, err := unmarshalVec3(v)
			if err != nil {
				return l, err
			}
			l.WorldCoordinates = vec
			b = b[n:]
		case fieldLandmarkIsOptimized:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return l, fmt.Errorf("wire: invalid landmark is_optimized: %w", protowire.ParseError(n))
			}
			l.IsOptimized = v != 0
			b = b[n:]
		case fieldLandmarkIsClosed:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return l, fmt.Errorf("wire: invalid landmark is_closed: %w", protowire.ParseError(n))
			}
			l.IsClosed = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return l, fmt.Errorf("wire: skipping unknown landmark field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return l, nil
}

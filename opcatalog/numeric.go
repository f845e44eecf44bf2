package opcatalog

import (
	"encoding/binary"
	"math"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

// decodeFloat64 widens a raw element buffer to float64 for constant-folding arithmetic.
// Only the numeric types constant folding actually needs to support are implemented;
// anything else (bool, string, complex) returns ok=false so callers skip folding rather
// than erroring -- folding is an optimization, never required for correctness.
func decodeFloat64(buf []byte, d dtype.DType, n int) ([]float64, bool) {
	out := make([]float64, n)
	switch d {
	case dtype.Float32:
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			out[i] = float64(math.Float32frombits(bits))
		}
	case dtype.Float64:
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint64(buf[i*8:])
			out[i] = math.Float64frombits(bits)
		}
	case dtype.Int32:
		for i := 0; i < n; i++ {
			out[i] = float64(int32(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case dtype.Int64:
		for i := 0; i < n; i++ {
			out[i] = float64(int64(binary.LittleEndian.Uint64(buf[i*8:])))
		}
	default:
		return nil, false
	}
	return out, true
}

func encodeFloat64(vals []float64, d dtype.DType) ([]byte, bool) {
	switch d {
	case dtype.Float32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
		return out, true
	case dtype.Float64:
		out := make([]byte, len(vals)*8)
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
		return out, true
	case dtype.Int32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
		return out, true
	case dtype.Int64:
		out := make([]byte, len(vals)*8)
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(int64(v)))
		}
		return out, true
	default:
		return nil, false
	}
}

// broadcastFlatIndex converts a flat index into outShape's element order into the
// corresponding flat index into inShape's storage, under numpy broadcasting: any axis
// where inShape has extent 1 (or doesn't exist) contributes 0 regardless of the output
// coordinate on that axis.
func broadcastFlatIndex(outShape, inShape dtype.Shape, flat int) int {
	rank := outShape.Rank()
	offset := rank - inShape.Rank()
	coords := make([]int, rank)
	rem := flat
	for axis := rank - 1; axis >= 0; axis-- {
		coords[axis] = rem % outShape.Dimensions[axis]
		rem /= outShape.Dimensions[axis]
	}
	inFlat, stride := 0, 1
	for axis := rank - 1; axis >= offset; axis-- {
		inAxis := axis - offset
		d := inShape.Dimensions[inAxis]
		c := coords[axis]
		if d == 1 {
			c = 0
		}
		inFlat += c * stride
		stride *= d
	}
	return inFlat
}

// inputShape fetches the shape of node's idx-th input tensor, failing with
// MissingProducer if the input isn't connected.
func inputShape(n *ir.Node, idx int) (dtype.Shape, *ir.Tensor, error) {
	tid, ok := n.Input(idx)
	if !ok {
		return dtype.Shape{}, nil, ir.Errorf(ir.MissingProducer, "%s: input %d not connected", n, idx)
	}
	t, ok := n.Graph().Tensor(tid)
	if !ok {
		return dtype.Shape{}, nil, ir.Errorf(ir.MissingProducer, "%s: input %d tensor %q not found", n, idx, tid)
	}
	return t.Shape, t, nil
}

func outputTensor(n *ir.Node, idx int) (*ir.Tensor, error) {
	tid, ok := n.Output(idx)
	if !ok {
		return nil, ir.Errorf(ir.InternalLogicError, "%s: output %d not connected", n, idx)
	}
	t, ok := n.Graph().Tensor(tid)
	if !ok {
		return nil, ir.Errorf(ir.InternalLogicError, "%s: output %d tensor %q not found", n, idx, tid)
	}
	return t, nil
}

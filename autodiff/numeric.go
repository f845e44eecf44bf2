package autodiff

import (
	"encoding/binary"
	"math"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

// accelDomainName mirrors opcatalog's unexported accelDomain constant: the autodiff
// builder synthesizes nodes under the same accelerator domain but lives in a separate
// package, so it names the domain string directly rather than importing an unexported
// identifier.
const accelDomainName = "tileforge.accel"

// encodeScalarFloat encodes a single float64 value as the little-endian byte buffer
// dtype d expects for a 0-d (scalar) tensor, used to materialize a loss's gradient seed
// (§4.D step 2).
func encodeScalarFloat(v float64, d dtype.DType) ([]byte, bool) {
	switch d {
	case dtype.Float32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf, true
	case dtype.Float64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		return buf, true
	default:
		return nil, false
	}
}

// zerosFor returns a zero-filled buffer sized for t's shape and dtype, used to initialize
// an SGD1 velocity tensor that was never given an explicit initial buffer.
func zerosFor(t *ir.Tensor) []byte {
	return make([]byte, dtype.NBytes(t.Shape.Dimensions, t.Shape.DType))
}

package transform

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/onnxpb"
	"github.com/tileforge/airuntime/opcatalog"
)

func f32Bytes(v float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

func TestConstFoldChainsToFixpoint(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddConstInit(ir.Const, "a", dtype.Scalar(dtype.Float32), f32Bytes(2))
	require.NoError(t, err)
	_, err = g.AddConstInit(ir.Const, "b", dtype.Scalar(dtype.Float32), f32Bytes(3))
	require.NoError(t, err)
	_, err = opcatalog.CreateNodeFromProto(onnxpb.NodeProto{OpType: "Mul", Input: []string{"a", "b"}, Output: []string{"ab"}}, 13, g)
	require.NoError(t, err)
	_, err = g.AddConstInit(ir.Const, "c", dtype.Scalar(dtype.Float32), f32Bytes(4))
	require.NoError(t, err)
	_, err = opcatalog.CreateNodeFromProto(onnxpb.NodeProto{OpType: "Mul", Input: []string{"ab", "c"}, Output: []string{"abc"}}, 13, g)
	require.NoError(t, err)

	require.NoError(t, ConstFold(g))

	abcT, ok := g.Tensor("abc")
	require.True(t, ok)
	require.Equal(t, ir.Const, abcT.Class)
	require.Equal(t, f32Bytes(24), abcT.Buffer)
	require.False(t, abcT.HasProducer())

	require.Equal(t, 0, len(g.Nodes()))
}

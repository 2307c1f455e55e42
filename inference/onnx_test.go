package inference

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// graphValue describes a graph input or output for buildModel. A negative
// dim is written as a symbolic dimension.
type graphValue struct {
	name string
	elem int32
	dims []int64
}

// nodeDef is one executable graph node.
type nodeDef struct {
	op      string
	inputs  []string
	outputs []string
}

// weightDef is a float32 initializer stored as raw_data.
type weightDef struct {
	name string
	dims []int64
	data []float32
}

// modelDef describes a model for buildModel. When graph is empty, nodes
// placeholder Relu nodes are written instead.
type modelDef struct {
	inputs       []graphValue
	outputs      []graphValue
	initializers []string
	weights      []weightDef
	graph        []nodeDef
	nodes        int
	opset        int64
	metadata     map[string]string
	noShape      bool
}

func classifierDef(classes int64) modelDef {
	return modelDef{
		inputs:  []graphValue{{name: "input", elem: ElemFloat, dims: []int64{1, 1, 28, 28}}},
		outputs: []graphValue{{name: "output", elem: ElemFloat, dims: []int64{1, classes}}},
		nodes:   3,
		opset:   13,
	}
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeValueInfo(v graphValue, noShape bool) []byte {
	var tensorType []byte
	tensorType = appendVarintField(tensorType, fieldTensorTypeElem, uint64(v.elem))
	if !noShape {
		var shape []byte
		for _, d := range v.dims {
			var dim []byte
			if d < 0 {
				dim = appendBytesField(dim, fieldDimParam, []byte("batch"))
			} else {
				dim = appendVarintField(dim, fieldDimValue, uint64(d))
			}
			shape = appendBytesField(shape, fieldShapeDim, dim)
		}
		tensorType = appendBytesField(tensorType, fieldTensorTypeShape, shape)
	}
	typ := appendBytesField(nil, fieldTypeTensor, tensorType)

	var vi []byte
	vi = appendBytesField(vi, fieldValueInfoName, []byte(v.name))
	vi = appendBytesField(vi, fieldValueInfoType, typ)
	return vi
}

func encodeNode(n nodeDef) []byte {
	var node []byte
	for _, in := range n.inputs {
		node = appendBytesField(node, 1, []byte(in))
	}
	for _, out := range n.outputs {
		node = appendBytesField(node, 2, []byte(out))
	}
	node = appendBytesField(node, 3, []byte(n.op))
	return appendBytesField(node, 4, []byte(n.op))
}

func encodeWeight(w weightDef) []byte {
	var t []byte
	for _, d := range w.dims {
		t = appendVarintField(t, 1, uint64(d))
	}
	t = appendVarintField(t, 2, uint64(ElemFloat))
	t = appendBytesField(t, fieldTensorName, []byte(w.name))
	raw := make([]byte, 4*len(w.data))
	for i, v := range w.data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return appendBytesField(t, 9, raw)
}

func buildModel(def modelDef) []byte {
	var graph []byte
	if len(def.graph) > 0 {
		for _, n := range def.graph {
			graph = appendBytesField(graph, fieldGraphNode, encodeNode(n))
		}
	} else {
		for i := 0; i < def.nodes; i++ {
			node := appendBytesField(nil, 4, []byte("Relu"))
			graph = appendBytesField(graph, fieldGraphNode, node)
		}
	}
	graph = appendBytesField(graph, 2, []byte("classifier"))
	for _, w := range def.weights {
		graph = appendBytesField(graph, fieldGraphInitializer, encodeWeight(w))
	}
	for _, name := range def.initializers {
		var t []byte
		t = appendVarintField(t, 1, 10)
		t = appendBytesField(t, fieldTensorName, []byte(name))
		graph = appendBytesField(graph, fieldGraphInitializer, t)
	}
	for _, in := range def.inputs {
		graph = appendBytesField(graph, fieldGraphInput, encodeValueInfo(in, false))
	}
	for _, out := range def.outputs {
		graph = appendBytesField(graph, fieldGraphOutput, encodeValueInfo(out, def.noShape))
	}

	var m []byte
	m = appendVarintField(m, fieldModelIRVersion, 8)
	m = appendBytesField(m, fieldModelProducerName, []byte("pytorch"))
	m = appendBytesField(m, fieldModelProducerVersion, []byte("2.1.0"))
	m = appendBytesField(m, fieldModelGraph, graph)
	var opset []byte
	opset = appendBytesField(opset, fieldOpsetDomain, []byte(""))
	opset = appendVarintField(opset, fieldOpsetVersion, uint64(def.opset))
	m = appendBytesField(m, fieldModelOpsetImport, opset)
	for k, v := range def.metadata {
		var entry []byte
		entry = appendBytesField(entry, fieldEntryKey, []byte(k))
		entry = appendBytesField(entry, fieldEntryValue, []byte(v))
		m = appendBytesField(m, fieldModelMetadataProps, entry)
	}
	return m
}

func TestParseModelInfo(t *testing.T) {
	def := classifierDef(10)
	def.metadata = map[string]string{"labels": "0,1,2"}
	info, err := ParseModelInfo(buildModel(def))
	require.NoError(t, err)

	assert.Equal(t, int64(8), info.IRVersion)
	assert.Equal(t, "pytorch", info.ProducerName)
	assert.Equal(t, "2.1.0", info.ProducerVersion)
	assert.Equal(t, int64(13), info.OpsetVersion)
	assert.Equal(t, 3, info.Nodes)
	assert.Equal(t, "0,1,2", info.Metadata["labels"])

	require.Len(t, info.Inputs, 1)
	assert.Equal(t, "input", info.Inputs[0].Name)
	assert.Equal(t, ElemFloat, info.Inputs[0].ElemType)
	assert.Equal(t, []Dim{{Value: 1}, {Value: 1}, {Value: 28}, {Value: 28}}, info.Inputs[0].Dims)

	require.Len(t, info.Outputs, 1)
	assert.Equal(t, "output", info.Outputs[0].Name)
	assert.Equal(t, []Dim{{Value: 1}, {Value: 10}}, info.Outputs[0].Dims)
}

func TestParseModelInfoSymbolicAndInitializers(t *testing.T) {
	def := classifierDef(10)
	def.inputs[0].dims = []int64{-1, 1, 28, 28}
	def.inputs = append(def.inputs, graphValue{name: "fc.weight", elem: ElemFloat, dims: []int64{10, 784}})
	def.initializers = []string{"fc.weight"}

	info, err := ParseModelInfo(buildModel(def))
	require.NoError(t, err)
	require.Len(t, info.Inputs, 1)
	assert.Equal(t, Dim{Param: "batch"}, info.Inputs[0].Dims[0])
	assert.False(t, info.Inputs[0].Dims[0].Static())
	assert.True(t, info.Inputs[0].Dims[1].Static())
}

func TestParseModelInfoNoShape(t *testing.T) {
	def := classifierDef(10)
	def.noShape = true
	info, err := ParseModelInfo(buildModel(def))
	require.NoError(t, err)
	assert.Nil(t, info.Outputs[0].Dims)
}

func TestParseModelInfoMalformed(t *testing.T) {
	valid := buildModel(classifierDef(10))

	cases := map[string][]byte{
		"empty":     nil,
		"truncated": valid[:len(valid)/2],
		"garbage":   []byte("this is not a protobuf message at all"),
		"no graph":  appendVarintField(nil, fieldModelIRVersion, 8),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseModelInfo(data)
			assert.Error(t, err)
		})
	}
}

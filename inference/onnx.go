package inference

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// TensorProto.DataType values used by the reader.
const (
	ElemFloat   int32 = 1
	ElemUint8   int32 = 2
	ElemInt64   int32 = 7
	ElemFloat16 int32 = 10
	ElemDouble  int32 = 11
)

// Dim is one dimension of a graph value. Either Value or Param is set.
type Dim struct {
	Value int64
	Param string
}

// Static reports whether the dimension has a fixed size.
func (d Dim) Static() bool { return d.Param == "" && d.Value > 0 }

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []Dim
}

// ModelInfo is the structural summary of an ONNX model file.
type ModelInfo struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	OpsetVersion    int64
	Inputs          []ValueInfo
	Outputs         []ValueInfo
	Nodes           int
	Metadata        map[string]string
}

// ONNX protobuf field numbers.
const (
	fieldModelIRVersion       = 1
	fieldModelProducerName    = 2
	fieldModelProducerVersion = 3
	fieldModelGraph           = 7
	fieldModelOpsetImport     = 8
	fieldModelMetadataProps   = 14

	fieldOpsetDomain  = 1
	fieldOpsetVersion = 2

	fieldEntryKey   = 1
	fieldEntryValue = 2

	fieldGraphNode        = 1
	fieldGraphInitializer = 5
	fieldGraphInput       = 11
	fieldGraphOutput      = 12

	fieldTensorName = 8

	fieldValueInfoName = 1
	fieldValueInfoType = 2

	fieldTypeTensor = 1

	fieldTensorTypeElem  = 1
	fieldTensorTypeShape = 2

	fieldShapeDim = 1

	fieldDimValue = 1
	fieldDimParam = 2
)

// ParseModelInfo reads the structure of a serialized ONNX ModelProto without
// materializing weights. Graph inputs that are also initializers are
// dropped, since older exporters list weights as inputs.
//
// Arguments:
//   - data: The serialized model.
//
// Returns:
//   - *ModelInfo: The model summary.
//   - error: When the bytes are not a well-formed ModelProto with a graph.
func ParseModelInfo(data []byte) (*ModelInfo, error) {
	if len(data) == 0 {
		return nil, errors.New("model file is empty")
	}

	info := &ModelInfo{Metadata: map[string]string{}}
	var graph []byte
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == fieldModelIRVersion && typ == protowire.VarintType:
			info.IRVersion = int64(u)
		case num == fieldModelProducerName && typ == protowire.BytesType:
			info.ProducerName = string(v)
		case num == fieldModelProducerVersion && typ == protowire.BytesType:
			info.ProducerVersion = string(v)
		case num == fieldModelGraph && typ == protowire.BytesType:
			graph = v
		case num == fieldModelOpsetImport && typ == protowire.BytesType:
			domain, version, err := parseOpset(v)
			if err != nil {
				return errors.Wrap(err, "opset_import")
			}
			if domain == "" || domain == "ai.onnx" {
				info.OpsetVersion = version
			}
		case num == fieldModelMetadataProps && typ == protowire.BytesType:
			k, val, err := parseEntry(v)
			if err != nil {
				return errors.Wrap(err, "metadata_props")
			}
			info.Metadata[k] = val
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "malformed model proto")
	}
	if graph == nil {
		return nil, errors.New("model has no graph")
	}
	if err := parseGraph(graph, info); err != nil {
		return nil, errors.Wrap(err, "malformed graph")
	}
	return info, nil
}

func parseGraph(data []byte, info *ModelInfo) error {
	initializers := map[string]struct{}{}
	var inputs []ValueInfo
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldGraphNode:
			info.Nodes++
		case fieldGraphInitializer:
			name, err := parseTensorName(v)
			if err != nil {
				return errors.Wrap(err, "initializer")
			}
			initializers[name] = struct{}{}
		case fieldGraphInput:
			vi, err := parseValueInfo(v)
			if err != nil {
				return errors.Wrap(err, "input")
			}
			inputs = append(inputs, vi)
		case fieldGraphOutput:
			vi, err := parseValueInfo(v)
			if err != nil {
				return errors.Wrap(err, "output")
			}
			info.Outputs = append(info.Outputs, vi)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, in := range inputs {
		if _, ok := initializers[in.Name]; !ok {
			info.Inputs = append(info.Inputs, in)
		}
	}
	return nil
}

func parseValueInfo(data []byte) (ValueInfo, error) {
	var vi ValueInfo
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldValueInfoName:
			vi.Name = string(v)
		case fieldValueInfoType:
			return walk(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if num != fieldTypeTensor || typ != protowire.BytesType {
					return nil
				}
				return parseTensorType(v, &vi)
			})
		}
		return nil
	})
	return vi, err
}

func parseTensorType(data []byte, vi *ValueInfo) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == fieldTensorTypeElem && typ == protowire.VarintType:
			vi.ElemType = int32(u)
		case num == fieldTensorTypeShape && typ == protowire.BytesType:
			vi.Dims = []Dim{}
			return walk(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if num != fieldShapeDim || typ != protowire.BytesType {
					return nil
				}
				d, err := parseDim(v)
				if err != nil {
					return err
				}
				vi.Dims = append(vi.Dims, d)
				return nil
			})
		}
		return nil
	})
}

func parseDim(data []byte) (Dim, error) {
	var d Dim
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == fieldDimValue && typ == protowire.VarintType:
			d.Value = int64(u)
		case num == fieldDimParam && typ == protowire.BytesType:
			d.Param = string(v)
		}
		return nil
	})
	return d, err
}

func parseTensorName(data []byte) (string, error) {
	var name string
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == fieldTensorName && typ == protowire.BytesType {
			name = string(v)
		}
		return nil
	})
	return name, err
}

func parseOpset(data []byte) (string, int64, error) {
	var (
		domain  string
		version int64
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == fieldOpsetDomain && typ == protowire.BytesType:
			domain = string(v)
		case num == fieldOpsetVersion && typ == protowire.VarintType:
			version = int64(u)
		}
		return nil
	})
	return domain, version, err
}

func parseEntry(data []byte) (string, string, error) {
	var k, v string
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldEntryKey:
			k = string(b)
		case fieldEntryValue:
			v = string(b)
		}
		return nil
	})
	return k, v, err
}

// walk iterates the fields of one protobuf message. Length-delimited values
// are passed as bytes, varints as u; other wire types are skipped.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			data = data[m:]
		case protowire.VarintType:
			u, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, nil, u); err != nil {
				return err
			}
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return nil
}

package loader

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relattn/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxHeaderSize bounds the JSON header read into memory.
const maxHeaderSize = 100 * 1024 * 1024

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
)

// elemSize returns the on-disk bytes per element.
func (d SafeTensorsDType) elemSize() (int, error) {
	switch d {
	case SafeTensorsF16, SafeTensorsBF16:
		return 2, nil
	case SafeTensorsF32:
		return 4, nil
	case SafeTensorsF64:
		return 8, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDType, "%s", d)
	}
}

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header in SafeTensors format.
type SafeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]SafeTensorInfo
}

// UnmarshalJSON splits "__metadata__" from the tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return errors.Wrap(err, "failed to unmarshal metadata")
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return errors.Wrapf(err, "failed to unmarshal tensor %s", key)
		}
		h.Tensors[key] = info
	}

	return nil
}

// SafeTensorsReader reads SafeTensors format files.
type SafeTensorsReader struct {
	file       *os.File
	mapped     []byte // whole file when opened WithMmap
	header     SafeTensorsHeader
	dataOffset int64 // where tensor data starts
	dataSize   int64 // bytes after the header
}

// ReaderOption configures a SafeTensorsReader.
type ReaderOption func(*readerOptions)

type readerOptions struct {
	mmap bool
}

// WithMmap maps the file read-only so tensor data is paged in on demand
// instead of read with a syscall per tensor.
func WithMmap() ReaderOption {
	return func(o *readerOptions) {
		o.mmap = true
	}
}

// NewSafeTensorsReader opens path and parses its header.
func NewSafeTensorsReader(path string, opts ...ReaderOption) (*SafeTensorsReader, error) {
	var o readerOptions
	for _, opt := range opts {
		opt(&o)
	}

	//nolint:gosec // G304: checkpoint path comes from the user
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}

	r, err := newSafeTensorsReader(file)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, errors.Wrapf(err, "%s", path)
	}

	if o.mmap {
		mapped, err := mmapFile(file, r.dataOffset+r.dataSize)
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrapf(err, "mmap %s", path)
		}
		r.mapped = mapped
		klog.V(2).Infof("mapped %s (%d bytes)", path, len(mapped))
	}
	return r, nil
}

func newSafeTensorsReader(file *os.File) (*SafeTensorsReader, error) {
	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > maxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat file")
	}

	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded by maxHeaderSize
	r := &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   stat.Size() - dataOffset,
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// validate checks every entry's dtype, shape and byte range against the file.
func (r *SafeTensorsReader) validate() error {
	for name, info := range r.header.Tensors {
		size, err := info.DType.elemSize()
		if err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}
		shape := tensor.Shape(info.Shape)
		if err := shape.Validate(); err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}

		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end > r.dataSize || end-start != int64(shape.NumElements()*size) {
			return errors.Wrapf(ErrOutOfBounds, "tensor %s: offsets [%d, %d], shape %v, data section %d bytes",
				name, start, end, shape, r.dataSize)
		}
	}
	return nil
}

// Close unmaps and closes the SafeTensors file.
func (r *SafeTensorsReader) Close() error {
	var err error
	if r.mapped != nil {
		err = munmapFile(r.mapped)
		r.mapped = nil
	}
	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}
	return err
}

// Metadata returns the metadata map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in lexical order.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, errors.Wrapf(ErrTensorNotFound, "%s", name)
	}
	return &info, nil
}

// ReadTensorData reads the raw bytes of a tensor.
//
// With WithMmap the result aliases the mapping: it is read-only and valid
// only until Close.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	if r.file == nil {
		return nil, errors.New("reader is closed")
	}
	if r.mapped != nil {
		start := r.dataOffset + info.DataOffsets[0]
		return r.mapped[start : r.dataOffset+info.DataOffsets[1]], nil
	}

	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor %s", name)
	}
	return data, nil
}

// LoadTensor loads a tensor onto the CPU. F16 and BF16 data is widened to
// float32; F32 and F64 keep their dtype.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	shape := tensor.Shape(info.Shape)
	switch info.DType {
	case SafeTensorsF16:
		return tensor.RawFromFloat32(tensor.DecodeHalf(data), shape, tensor.CPU)
	case SafeTensorsBF16:
		return tensor.RawFromFloat32(tensor.DecodeBFloat16(data), shape, tensor.CPU)
	case SafeTensorsF32, SafeTensorsF64:
		dtype := tensor.Float32
		if info.DType == SafeTensorsF64 {
			dtype = tensor.Float64
		}
		raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %s", name)
		}
		copy(raw.Data(), data)
		return raw, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDType, "tensor %s: %s", name, info.DType)
	}
}

// ReadSafeTensors loads every tensor in path.
func ReadSafeTensors(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	r, err := NewSafeTensorsReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = r.Close() // read-only
	}()

	state := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, name := range r.TensorNames() {
		raw, err := r.LoadTensor(name)
		if err != nil {
			return nil, nil, err
		}
		state[name] = raw
	}

	klog.V(1).Infof("loaded %d tensors from %s", len(state), path)
	return state, r.Metadata(), nil
}

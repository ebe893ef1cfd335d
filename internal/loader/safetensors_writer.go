package loader

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relattn/internal/tensor"
)

// SafeTensorsWriter writes state dicts in SafeTensors format.
type SafeTensorsWriter struct {
	file      *os.File
	precision tensor.Precision
	closed    bool
}

// WriterOption configures a SafeTensorsWriter.
type WriterOption func(*SafeTensorsWriter)

// WithPrecision stores Float32 tensors as F16 or BF16. Float64 tensors are
// always written as F64.
func WithPrecision(p tensor.Precision) WriterOption {
	return func(w *SafeTensorsWriter) {
		w.precision = p
	}
}

// NewSafeTensorsWriter creates path for writing.
func NewSafeTensorsWriter(path string, opts ...WriterOption) (*SafeTensorsWriter, error) {
	//nolint:gosec // G304: output path comes from the user
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file")
	}

	w := &SafeTensorsWriter{file: file}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// WriteSafeTensors writes stateDict to path. Tensors are laid out in
// alphabetical order by name.
func WriteSafeTensors(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string, opts ...WriterOption) error {
	writer, err := NewSafeTensorsWriter(path, opts...)
	if err != nil {
		return err
	}

	if err := writer.WriteStateDict(stateDict, metadata); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "%s", path)
	}
	if err := writer.Close(); err != nil {
		return errors.Wrapf(err, "%s", path)
	}

	klog.V(1).Infof("wrote %d tensors to %s (%s)", len(stateDict), path, writer.precision)
	return nil
}

// WriteStateDict writes the header followed by every tensor's data.
func (w *SafeTensorsWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	if w.closed {
		return errors.New("writer is closed")
	}

	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	payloads := make([][]byte, len(names))
	var offset int64
	for i, name := range names {
		dtype, payload, err := w.encode(stateDict[name])
		if err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}

		size := int64(len(payload))
		header[name] = SafeTensorInfo{
			DType:       dtype,
			Shape:       stateDict[name].Shape(),
			DataOffsets: [2]int64{offset, offset + size},
		}
		payloads[i] = payload
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}

	buf := bufio.NewWriter(w.file)
	if err := binary.Write(buf, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := buf.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	for i, payload := range payloads {
		if _, err := buf.Write(payload); err != nil {
			return errors.Wrapf(err, "failed to write tensor %s", names[i])
		}
	}
	return buf.Flush()
}

// encode returns the on-disk dtype and bytes of raw.
func (w *SafeTensorsWriter) encode(raw *tensor.RawTensor) (SafeTensorsDType, []byte, error) {
	switch raw.DType() {
	case tensor.Float64:
		return SafeTensorsF64, raw.Data(), nil
	case tensor.Float32:
		switch w.precision {
		case tensor.FP16:
			return SafeTensorsF16, tensor.EncodeHalf(raw.AsFloat32()), nil
		case tensor.BF16:
			return SafeTensorsBF16, tensor.EncodeBFloat16(raw.AsFloat32()), nil
		default:
			return SafeTensorsF32, raw.Data(), nil
		}
	default:
		return "", nil, errors.Wrapf(ErrUnsupportedDType, "%s", raw.DType())
	}
}

// Close closes the writer and the underlying file.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

package loader

import (
	"container/list"
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relattn/internal/tensor"
)

// LoadPyTorch reads a torch.save checkpoint. Nested dicts (for example a
// {"model": state_dict} wrapper) are flattened with dotted keys; values that
// are not tensors are skipped.
func LoadPyTorch(path string) (map[string]*tensor.RawTensor, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpickle %s", path)
	}

	state := make(map[string]*tensor.RawTensor)
	if err := flattenPickled(state, "", obj); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if len(state) == 0 {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s: no tensors found", path)
	}

	klog.V(1).Infof("loaded %d tensors from %s", len(state), path)
	return state, nil
}

// flattenPickled walks obj and converts every tensor it reaches.
func flattenPickled(state map[string]*tensor.RawTensor, prefix string, obj any) error {
	switch v := obj.(type) {
	case *pytorch.Tensor:
		if prefix == "" {
			return errors.Wrap(ErrUnsupportedFormat, "checkpoint is a bare tensor")
		}
		raw, err := convertTorchTensor(v)
		if err != nil {
			return errors.Wrapf(err, "tensor %s", prefix)
		}
		state[prefix] = raw
	case *types.Dict:
		for _, key := range v.Keys() {
			if err := flattenPickled(state, joinKey(prefix, key), v.MustGet(key)); err != nil {
				return err
			}
		}
	case *types.OrderedDict:
		return flattenOrdered(state, prefix, v.List)
	default:
		klog.V(2).Infof("skipping %q of type %T", prefix, obj)
	}
	return nil
}

func flattenOrdered(state map[string]*tensor.RawTensor, prefix string, entries *list.List) error {
	for e := entries.Front(); e != nil; e = e.Next() {
		entry, ok := e.Value.(*types.OrderedDictEntry)
		if !ok {
			continue
		}
		if err := flattenPickled(state, joinKey(prefix, entry.Key), entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func joinKey(prefix string, key any) string {
	name := fmt.Sprint(key)
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// convertTorchTensor copies a contiguous view out of its storage.
func convertTorchTensor(t *pytorch.Tensor) (*tensor.RawTensor, error) {
	shape := tensor.Shape(append([]int(nil), t.Size...))
	if len(shape) == 0 {
		shape = tensor.Shape{1}
	}
	if !isContiguous(t.Size, t.Stride) {
		return nil, errors.Wrapf(ErrNonContiguous, "size %v stride %v", t.Size, t.Stride)
	}

	n := shape.NumElements()
	start, end := t.StorageOffset, t.StorageOffset+n

	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		if end > len(s.Data) {
			return nil, errors.Wrapf(ErrOutOfBounds, "view [%d, %d) of %d floats", start, end, len(s.Data))
		}
		return tensor.RawFromFloat32(s.Data[start:end], shape, tensor.CPU)
	case *pytorch.HalfStorage:
		if end > len(s.Data) {
			return nil, errors.Wrapf(ErrOutOfBounds, "view [%d, %d) of %d halves", start, end, len(s.Data))
		}
		return tensor.RawFromFloat32(s.Data[start:end], shape, tensor.CPU)
	case *pytorch.BFloat16Storage:
		if end > len(s.Data) {
			return nil, errors.Wrapf(ErrOutOfBounds, "view [%d, %d) of %d bfloat16s", start, end, len(s.Data))
		}
		return tensor.RawFromFloat32(s.Data[start:end], shape, tensor.CPU)
	case *pytorch.DoubleStorage:
		if end > len(s.Data) {
			return nil, errors.Wrapf(ErrOutOfBounds, "view [%d, %d) of %d doubles", start, end, len(s.Data))
		}
		raw, err := tensor.NewRaw(shape, tensor.Float64, tensor.CPU)
		if err != nil {
			return nil, err
		}
		copy(raw.AsFloat64(), s.Data[start:end])
		return raw, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDType, "storage %T", t.Source)
	}
}

// isContiguous reports whether stride is the row-major stride of size.
// Dimensions of extent 1 may carry any stride.
func isContiguous(size, stride []int) bool {
	if len(stride) != len(size) {
		return len(size) == 0
	}
	expected := 1
	for i := len(size) - 1; i >= 0; i-- {
		if size[i] != 1 && stride[i] != expected {
			return false
		}
		expected *= size[i]
	}
	return true
}

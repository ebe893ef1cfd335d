//go:build windows

package loader

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// mmapFile maps size bytes of f read-only.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	handle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()),
		nil,
		windows.PAGE_READONLY,
		uint32(size>>32), //nolint:gosec // G115: high word of the size
		uint32(size),     //nolint:gosec // G115: low word of the size
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "CreateFileMapping")
	}
	defer func() {
		_ = windows.CloseHandle(handle) // the view keeps the mapping alive
	}()

	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		return nil, errors.Wrap(err, "MapViewOfFile")
	}

	//nolint:gosec // G103: addr is a live view of exactly size bytes
	return unsafe.Slice((*byte)(unsafe.Add(nil, addr)), int(size)), nil
}

func munmapFile(data []byte) error {
	if len(data) == 0 {
		return errors.New("cannot unmap empty data")
	}
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&data[0]))) //nolint:gosec // G103: base of the view
}

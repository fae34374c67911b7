//go:build linux || darwin

package ext2

import (
	"os"

	"golang.org/x/sys/unix"
)

// FileBlockDevice is the reference BlockDevice backed by an *os.File,
// using golang.org/x/sys/unix for positioned I/O rather than
// os.File.ReadAt/WriteAt, so short reads on special files surface the
// same way they do under the FUSE front end.
type FileBlockDevice struct {
	f          *os.File
	sectorSize int
}

// NewFileBlockDevice opens path for positioned reads and writes at the
// given sector size (512 unless the caller knows the backing device uses a
// larger native sector).
func NewFileBlockDevice(path string, sectorSize int, writable bool) (*FileBlockDevice, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	if sectorSize <= 0 {
		sectorSize = SectorSize
	}
	return &FileBlockDevice{f: f, sectorSize: sectorSize}, nil
}

func (d *FileBlockDevice) SectorSize() int { return d.sectorSize }

func (d *FileBlockDevice) ReadSector(sector uint64, buf []byte) error {
	off := int64(sector) * int64(d.sectorSize)
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return &PathError{Op: "read_sector", Kind: KindNotSupported, Context: "short read", cause: ErrNotSupported}
	}
	return nil
}

func (d *FileBlockDevice) WriteSector(sector uint64, buf []byte) error {
	off := int64(sector) * int64(d.sectorSize)
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return &PathError{Op: "write_sector", Kind: KindNotSupported, Context: "short write", cause: ErrNotSupported}
	}
	return nil
}

// Sync flushes the underlying file to stable storage.
func (d *FileBlockDevice) Sync() error { return d.f.Sync() }

// Close releases the underlying file descriptor.
func (d *FileBlockDevice) Close() error { return d.f.Close() }

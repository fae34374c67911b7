package ext2

import (
	"io"
	"io/fs"
)

// File is an open regular-file handle, implementing fs.File plus
// io.ReaderAt/io.WriterAt for random access.
type File struct {
	fsys   *FileSystem
	ino    *Inode
	name   string
	offset int64
}

var (
	_ fs.File     = (*File)(nil)
	_ io.ReaderAt = (*File)(nil)
	_ io.WriterAt = (*File)(nil)
)

func (f *File) Stat() (fs.FileInfo, error) {
	meta := f.ino.Metadata()
	return &fileInfo{name: f.name, meta: meta}, nil
}

func (f *File) Read(p []byte) (int, error) {
	n, err := f.ino.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.ino.ReadAt(p, off)
}

func (f *File) Write(p []byte) (int, error) {
	n, err := f.ino.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	return f.ino.WriteAt(p, off)
}

// Truncate sets the file's logical size.
func (f *File) Truncate(size uint64) error {
	return f.ino.Truncate(size)
}

// Seek implements io.Seeker over the logical byte stream.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		f.offset = int64(f.ino.Size()) + offset
	default:
		return 0, newErr("seek", f.name, KindNotSupported, "invalid whence")
	}
	return f.offset, nil
}

// Close is a no-op: the write-back cache, not the open handle, owns
// durability. Callers that need data on disk call FileSystem.Flush.
func (f *File) Close() error { return nil }

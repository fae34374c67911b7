package ext2

import (
	"io/fs"
	"time"
)

// Metadata is the POSIX attribute surface returned by Inode.Metadata and
// FileSystem.Metadata.
type Metadata struct {
	Type    FileType
	Mode    fs.FileMode
	Uid     uint32
	Gid     uint32
	Size    uint64
	Links   uint32
	Atime   time.Time
	Ctime   time.Time
	Mtime   time.Time
	InodeNo uint32
}

func (m Metadata) IsDir() bool { return m.Type.IsDir() }

package ext2

import "io/fs"

// FileType is the directory-entry file-type tag: it is stored alongside
// every directory record so a reader can tell what an entry points to
// without fetching the inode.
type FileType uint8

const (
	TypeUnknown FileType = iota
	TypeRegular
	TypeDirectory
	TypeCharDev
	TypeBlockDev
	TypeFIFO
	TypeSocket
	TypeSymlink
)

func (t FileType) IsDir() bool     { return t == TypeDirectory }
func (t FileType) IsSymlink() bool { return t == TypeSymlink }
func (t FileType) IsRegular() bool { return t == TypeRegular }

// Mode returns the fs.FileMode bits describing this type, with no
// permission bits set.
func (t FileType) Mode() fs.FileMode {
	switch t {
	case TypeDirectory:
		return fs.ModeDir
	case TypeRegular:
		return 0
	case TypeSymlink:
		return fs.ModeSymlink
	case TypeBlockDev:
		return fs.ModeDevice
	case TypeCharDev:
		return fs.ModeDevice | fs.ModeCharDevice
	case TypeFIFO:
		return fs.ModeNamedPipe
	case TypeSocket:
		return fs.ModeSocket
	default:
		return fs.ModeIrregular
	}
}

// fileTypeFromMode derives the directory-entry file-type tag from an
// on-disk inode's mode field (the high 4 bits).
func fileTypeFromMode(mode uint16) FileType {
	switch mode & sIFMT {
	case sIFREG:
		return TypeRegular
	case sIFDIR:
		return TypeDirectory
	case sIFCHR:
		return TypeCharDev
	case sIFBLK:
		return TypeBlockDev
	case sIFIFO:
		return TypeFIFO
	case sIFLNK:
		return TypeSymlink
	case sIFSOCK:
		return TypeSocket
	default:
		return TypeUnknown
	}
}

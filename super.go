package ext2

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Magic is the fixed superblock signature.
const Magic = 0xEF53

// superblockOffset is where the superblock always lives, regardless of
// block size: the first 1024 bytes of the device are never part of any
// ext2 structure.
const superblockOffset = 1024

// superblockSize is the on-disk record size this engine parses. Revision 1
// adds the dynamic-rev fields (first_ino..last_mounted); everything past
// s_last_mounted (algorithm usage bitmap, preallocation hints, journal) is
// out of scope and left untouched on disk.
const superblockSize = 200

// Superblock is the in-memory decode of the ext2 superblock, decoded with
// a reflect-driven field-by-field binary.Read walk (the group descriptor
// and inode records are instead decoded by hand).
type Superblock struct {
	InodesCount     uint32
	BlocksCount     uint32
	RBlocksCount    uint32
	FreeBlocksCount uint32
	FreeInodesCount uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	LogFragSize     uint32
	BlocksPerGroup  uint32
	FragsPerGroup   uint32
	InodesPerGroup  uint32
	Mtime           uint32
	Wtime           uint32
	MntCount        uint16
	MaxMntCount     uint16
	MagicField      uint16
	State           uint16
	Errors          uint16
	MinorRevLevel   uint16
	Lastcheck       uint32
	Checkinterval   uint32
	CreatorOS       uint32
	RevLevel        uint32
	DefResuid       uint16
	DefResgid       uint16

	// -- revision 1 (EXT2_DYNAMIC_REV) fields --
	FirstIno         uint32
	InodeSize        uint16
	BlockGroupNr     uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32
	FeatureRoCompat  uint32
	UUIDField        uuid.UUID
	VolumeNameField  [16]byte
	LastMountedField [64]byte

	order binary.ByteOrder
}

// readSuperblock decodes the 1024-byte-offset superblock record.
func readSuperblock(data []byte) (*Superblock, error) {
	if len(data) < superblockSize {
		return nil, newErr("mount", "", KindNotSupported, "short superblock read")
	}
	sb := &Superblock{order: binary.LittleEndian}
	if err := sb.unmarshalBinary(data); err != nil {
		return nil, err
	}
	if sb.MagicField != Magic {
		return nil, newErr("mount", "", KindNotSupported, "bad superblock magic")
	}
	if sb.RevLevel < 1 {
		return nil, newErr("mount", "", KindNotSupported, "revision 0 filesystems are not supported")
	}
	return sb, nil
}

func (s *Superblock) unmarshalBinary(data []byte) error {
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	r := bytes.NewReader(data)

	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name
		if name == "order" || name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if err := binary.Read(r, s.order, v.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}

// marshalBinary encodes the superblock back into a superblockSize-byte
// buffer for write-back after any counter mutation.
func (s *Superblock) marshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()

	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name
		if name == "order" || name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if err := binary.Write(&buf, s.order, v.Field(i).Interface()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// BlockSizeBytes returns 1024 << LogBlockSize. This engine only supports
// the 4096 case; Validate rejects anything else.
func (s *Superblock) BlockSizeBytes() uint32 {
	return 1024 << s.LogBlockSize
}

// GroupCount returns the number of block groups, computed from
// BlocksCount the same way e2fsprogs does: ceil(blocks / blocks_per_group).
func (s *Superblock) GroupCount() uint32 {
	if s.BlocksPerGroup == 0 {
		return 0
	}
	n := s.BlocksCount / s.BlocksPerGroup
	if s.BlocksCount%s.BlocksPerGroup != 0 {
		n++
	}
	return n
}

// Validate checks the invariants the rest of this engine relies on
// before any other component is allowed to run.
func (s *Superblock) Validate() error {
	if s.MagicField != Magic {
		return newErr("mount", "", KindNotSupported, "bad magic")
	}
	if s.BlockSizeBytes() != BlockSize {
		return newErr("mount", "", KindNotSupported, "only 4096-byte blocks are supported")
	}
	if s.BlocksPerGroup == 0 || s.InodesPerGroup == 0 {
		return newErr("mount", "", KindNotSupported, "zero group geometry")
	}
	if s.InodeSize == 0 {
		s.InodeSize = 128
	}
	return nil
}

// UUID returns the volume UUID.
func (s *Superblock) UUID() uuid.UUID { return s.UUIDField }

// VolumeName returns the NUL-trimmed volume label.
func (s *Superblock) VolumeName() string {
	return trimNulString(s.VolumeNameField[:])
}

func trimNulString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ModTime returns Mtime as a time.Time in UTC, used for display and fsck
// reporting.
func (s *Superblock) ModTime() time.Time {
	return time.Unix(int64(s.Mtime), 0).UTC()
}

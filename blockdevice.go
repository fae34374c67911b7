package ext2

// BlockSize is the fixed ext2 block size this engine supports: revision
// ≥ 1 filesystems with 4 KiB blocks only. It is a constant rather than a
// superblock-derived value because every addressing computation in this
// package is defined in terms of it.
const BlockSize = 4096

// SectorSize is the unit of I/O exposed by the block device contract.
// The cache multiplexes BlockSize-byte blocks over SectorSize-byte
// sectors.
const SectorSize = 512

const sectorsPerBlock = BlockSize / SectorSize

// BlockDevice is the external collaborator this engine is built against:
// it reports its sector size and reads and writes a sector's worth of
// bytes at a given sector index. It is consumed, not implemented, by the
// core engine; FileBlockDevice (blockdevice_unix.go) is a reference
// implementation used by the CLIs, while the tests use in-memory devices.
type BlockDevice interface {
	// SectorSize returns the device's native sector size in bytes. The
	// cache requires this to evenly divide BlockSize.
	SectorSize() int

	// ReadSector reads exactly len(buf) bytes at sector index `sector`
	// into buf.
	ReadSector(sector uint64, buf []byte) error

	// WriteSector writes exactly len(buf) bytes at sector index `sector`
	// from buf.
	WriteSector(sector uint64, buf []byte) error
}

package ext2

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Default mkfs geometry constants, chosen the way e2fsprogs' mke2fs
// defaults work: one inode per 16 KiB of space, one block group per
// 32768 blocks (the number of blocks one 4096-byte bitmap block can
// cover: BlockSize * 8).
const (
	mkfsBytesPerInode = 16384
	mkfsBlocksPerGrp  = BlockSize * 8
)

// MkFS formats dev as a fresh ext2 filesystem of blocksCount blocks and
// returns it already mounted. This engine simplifies one aspect of real
// ext2 layout: the superblock and group descriptor table are written only
// once, at the start of group 0, rather than duplicated into every group
// as e2fsprogs does without sparse_super (see DESIGN.md) — readers of this
// image must always consult group 0's copy.
func MkFS(dev BlockDevice, blocksCount uint32, opts ...Option) (*FileSystem, error) {
	cache, err := NewCache(dev, cacheDefaultSize, nullLogger)
	if err != nil {
		return nil, err
	}

	blocksPerGroup := uint32(mkfsBlocksPerGrp)
	groupCount := blocksCount / blocksPerGroup
	if blocksCount%blocksPerGroup != 0 {
		groupCount++
	}
	if groupCount == 0 {
		groupCount = 1
	}

	totalBytes := uint64(blocksCount) * BlockSize
	totalInodes := uint32(totalBytes / mkfsBytesPerInode)
	if totalInodes < 32 {
		totalInodes = 32
	}
	inodesPerGroup := totalInodes / groupCount
	if totalInodes%groupCount != 0 {
		inodesPerGroup++
	}
	// Round up so the inode table occupies whole blocks.
	perBlock := uint32(BlockSize / diskInodeSize)
	if inodesPerGroup%perBlock != 0 {
		inodesPerGroup += perBlock - inodesPerGroup%perBlock
	}

	gdtBlocks := (groupCount*groupDescSize + BlockSize - 1) / BlockSize
	inodeTableBlocks := (inodesPerGroup*diskInodeSize + BlockSize - 1) / BlockSize

	layouts := make([]groupLayout, groupCount)
	for g := uint32(0); g < groupCount; g++ {
		groupStart := g * blocksPerGroup
		metaStart := groupStart
		if g == 0 {
			metaStart = 1 + gdtBlocks
		}
		layouts[g] = groupLayout{
			blockBitmap: metaStart,
			inodeBitmap: metaStart + 1,
			inodeTable:  metaStart + 2,
			dataStart:   metaStart + 2 + inodeTableBlocks,
		}
	}

	now := uint32(time.Now().Unix())
	sb := &Superblock{
		InodesCount:     inodesPerGroup * groupCount,
		BlocksCount:     blocksCount,
		RBlocksCount:    blocksCount / 20, // 5% reserve, matching mke2fs's default
		FirstDataBlock:  0,
		LogBlockSize:    2, // 1024 << 2 == 4096
		BlocksPerGroup:  blocksPerGroup,
		FragsPerGroup:   blocksPerGroup,
		InodesPerGroup:  inodesPerGroup,
		Mtime:           now,
		Wtime:           now,
		MagicField:      Magic,
		State:           1, // EXT2_VALID_FS
		MinorRevLevel:   0,
		RevLevel:        1,
		FirstIno:        11,
		InodeSize:       diskInodeSize,
		UUIDField:       uuid.New(),
		order:           binary.LittleEndian,
	}

	if err := writeZeroedRegion(cache, sb, layouts, groupCount, inodeTableBlocks); err != nil {
		return nil, err
	}

	// Mark metadata and reserved-inode bits used in each group.
	freeBlocksTotal := uint32(0)
	freeInodesTotal := uint32(0)
	for g := uint32(0); g < groupCount; g++ {
		blocksInGroup := blocksPerGroup
		if g == groupCount-1 {
			rem := blocksCount - g*blocksPerGroup
			if rem < blocksInGroup {
				blocksInGroup = rem
			}
		}
		lay := layouts[g]
		usedBlocks := lay.dataStart - g*blocksPerGroup
		if g == 0 {
			// +1 reserves the root directory's single data block.
			usedBlocks = lay.dataStart + 1
		}

		err := cache.Modify(lay.blockBitmap, 0, func(data []byte) error {
			for i := range data {
				data[i] = 0
			}
			for i := uint32(0); i < usedBlocks && i < blocksInGroup; i++ {
				bitmapSet(data, int(i))
			}
			for i := blocksInGroup; i < BlockSize*8; i++ {
				bitmapSet(data, int(i))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		usedInodes := uint32(0)
		if g == 0 {
			usedInodes = sb.FirstIno - 1 // inodes 1..first_ino-1 are reserved, including root (#2)
		}
		err = cache.Modify(lay.inodeBitmap, 0, func(data []byte) error {
			for i := range data {
				data[i] = 0
			}
			for i := uint32(0); i < usedInodes; i++ {
				bitmapSet(data, int(i))
			}
			for i := inodesPerGroup; i < BlockSize*8; i++ {
				bitmapSet(data, int(i))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		freeBlocksTotal += blocksInGroup - usedBlocks
		freeInodesTotal += inodesPerGroup - usedInodes

		gd := groupDesc{
			BlockBitmap:     lay.blockBitmap,
			InodeBitmap:     lay.inodeBitmap,
			InodeTable:      lay.inodeTable,
			FreeBlocksCount: uint16(blocksInGroup - usedBlocks),
			FreeInodesCount: uint16(inodesPerGroup - usedInodes),
			UsedDirsCount:   0,
		}
		gdtBlock := 1 + g/descsPerBlock
		gdtOff := int(g%descsPerBlock) * groupDescSize
		err = cache.Modify(gdtBlock, gdtOff, func(data []byte) error {
			encodeGroupDesc(gd, data[:groupDescSize])
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sb.FreeBlocksCount = freeBlocksTotal
	sb.FreeInodesCount = freeInodesTotal

	buf, err := sb.marshalBinary()
	if err != nil {
		return nil, err
	}
	err = cache.Modify(0, superblockOffset, func(data []byte) error {
		copy(data[:len(buf)], buf)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Root inode (#2): directory, rwxr-xr-x, self-referential "." and "..".
	rootLoc := layouts[0]
	rootBlockOff := uint32(rootInodeNum - 1) // 0-based index of inode 2 within group 0's table
	rootBlock := rootLoc.inodeTable + (rootBlockOff*diskInodeSize)/BlockSize
	rootOff := int((rootBlockOff * diskInodeSize) % BlockSize)

	dataBlock := layouts[0].dataStart
	rootRecord := diskInode{
		Mode:       sIFDIR | 0755,
		LinksCount: 2,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
		Blocks512:  BlockSize / 512,
	}
	rootRecord.Block[0] = dataBlock
	rootRecord.setSize(BlockSize)
	rootBuf := make([]byte, diskInodeSize)
	encodeDiskInode(rootRecord, rootBuf)
	err = cache.Modify(rootBlock, rootOff, func(data []byte) error {
		copy(data[:diskInodeSize], rootBuf)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = cache.Modify(dataBlock, 0, func(data []byte) error {
		dot := dirRecord{Inode: rootInodeNum, RecLen: dirRecordSpace("."), NameLen: 1, FileType: TypeDirectory, Name: ".", blockOffset: 0}
		encodeDirRecord(dot, data)
		dotdotOff := int(dot.RecLen)
		dotdot := dirRecord{Inode: rootInodeNum, RecLen: BlockSize - dot.RecLen, NameLen: 2, FileType: TypeDirectory, Name: "..", blockOffset: dotdotOff}
		encodeDirRecord(dotdot, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := cache.Flush(); err != nil {
		return nil, err
	}

	return Open(dev, opts...)
}

type groupLayout struct {
	blockBitmap uint32
	inodeBitmap uint32
	inodeTable  uint32
	dataStart   uint32
}

// writeZeroedRegion zeroes every metadata block mkfs is about to populate
// so stale device contents never leak into bitmaps or the inode table.
func writeZeroedRegion(cache *Cache, sb *Superblock, layouts []groupLayout, groupCount uint32, inodeTableBlocks uint32) error {
	if err := cache.Zero(0); err != nil {
		return err
	}
	gdtBlocks := (groupCount*groupDescSize + BlockSize - 1) / BlockSize
	for b := uint32(1); b < 1+gdtBlocks; b++ {
		if err := cache.Zero(b); err != nil {
			return err
		}
	}
	for _, lay := range layouts {
		if err := cache.Zero(lay.blockBitmap); err != nil {
			return err
		}
		if err := cache.Zero(lay.inodeBitmap); err != nil {
			return err
		}
		for b := uint32(0); b < inodeTableBlocks; b++ {
			if err := cache.Zero(lay.inodeTable + b); err != nil {
				return err
			}
		}
	}
	return nil
}

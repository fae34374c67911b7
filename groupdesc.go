package ext2

import "encoding/binary"

// groupDescSize is the fixed on-disk record size.
const groupDescSize = 32

// descsPerBlock is how many 32-byte group descriptors fit in one block.
const descsPerBlock = BlockSize / groupDescSize

// groupDesc is the on-disk block-group descriptor record.
type groupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	Pad             uint16
	Reserved        [12]byte
}

func decodeGroupDesc(buf []byte) groupDesc {
	var g groupDesc
	g.BlockBitmap = binary.LittleEndian.Uint32(buf[0:4])
	g.InodeBitmap = binary.LittleEndian.Uint32(buf[4:8])
	g.InodeTable = binary.LittleEndian.Uint32(buf[8:12])
	g.FreeBlocksCount = binary.LittleEndian.Uint16(buf[12:14])
	g.FreeInodesCount = binary.LittleEndian.Uint16(buf[14:16])
	g.UsedDirsCount = binary.LittleEndian.Uint16(buf[16:18])
	g.Pad = binary.LittleEndian.Uint16(buf[18:20])
	copy(g.Reserved[:], buf[20:32])
	return g
}

func encodeGroupDesc(g groupDesc, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], g.BlockBitmap)
	binary.LittleEndian.PutUint32(buf[4:8], g.InodeBitmap)
	binary.LittleEndian.PutUint32(buf[8:12], g.InodeTable)
	binary.LittleEndian.PutUint16(buf[12:14], g.FreeBlocksCount)
	binary.LittleEndian.PutUint16(buf[14:16], g.FreeInodesCount)
	binary.LittleEndian.PutUint16(buf[16:18], g.UsedDirsCount)
	binary.LittleEndian.PutUint16(buf[18:20], g.Pad)
	copy(buf[20:32], g.Reserved[:])
}

// Group is the runtime handle for one block group: its descriptor plus
// the geometry needed to locate its bitmaps and inode table.
// Lock ordering: allocator → group → cache; a Group never calls back into
// the allocator.
type Group struct {
	index uint32
	desc  groupDesc

	descBlock  uint32 // block holding this group's descriptor
	descOffset int    // byte offset of this group's descriptor within descBlock

	blocksInGroup uint32
	inodesInGroup uint32
}

// loadGroupDescTable reads the descriptor table immediately following the
// superblock's block and returns one Group per entry.
func loadGroupDescTable(c *Cache, sb *Superblock) ([]*Group, error) {
	n := sb.GroupCount()
	groups := make([]*Group, n)
	tableStart := sb.FirstDataBlock + 1

	for i := uint32(0); i < n; i++ {
		blockOfft := i / descsPerBlock
		within := int(i % descsPerBlock)
		block := tableStart + blockOfft
		offset := within * groupDescSize

		var gd groupDesc
		err := c.View(block, offset, func(data []byte) error {
			gd = decodeGroupDesc(data[:groupDescSize])
			return nil
		})
		if err != nil {
			return nil, err
		}

		blocksInGroup := sb.BlocksPerGroup
		if i == n-1 {
			rem := sb.BlocksCount - sb.FirstDataBlock - i*sb.BlocksPerGroup
			if rem < blocksInGroup {
				blocksInGroup = rem
			}
		}
		inodesInGroup := sb.InodesPerGroup

		groups[i] = &Group{
			index:         i,
			desc:          gd,
			descBlock:     block,
			descOffset:    offset,
			blocksInGroup: blocksInGroup,
			inodesInGroup: inodesInGroup,
		}
	}
	return groups, nil
}

// writeBack persists this group's descriptor to the cache. Caller holds
// the allocator lock.
func (g *Group) writeBack(c *Cache) error {
	return c.Modify(g.descBlock, g.descOffset, func(data []byte) error {
		encodeGroupDesc(g.desc, data[:groupDescSize])
		return nil
	})
}

// FreeBlocks reports this group's free block count, for fsck and listing.
func (g *Group) FreeBlocks() uint16 { return g.desc.FreeBlocksCount }

// FreeInodes reports this group's free inode count.
func (g *Group) FreeInodes() uint16 { return g.desc.FreeInodesCount }

// Index returns the group's zero-based index.
func (g *Group) Index() uint32 { return g.index }

// BlocksInGroup returns how many blocks this group covers (the last
// group may cover fewer than BlocksPerGroup).
func (g *Group) BlocksInGroup() uint32 { return g.blocksInGroup }

// InodesInGroup returns how many inodes this group covers.
func (g *Group) InodesInGroup() uint32 { return g.inodesInGroup }

// BlockBitmapBlock returns the block holding this group's block bitmap.
func (g *Group) BlockBitmapBlock() uint32 { return g.desc.BlockBitmap }

// InodeBitmapBlock returns the block holding this group's inode bitmap.
func (g *Group) InodeBitmapBlock() uint32 { return g.desc.InodeBitmap }

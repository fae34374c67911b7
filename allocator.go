package ext2

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Allocator owns the superblock, the group descriptor table, and the
// block/inode bitmaps, serializing every allocation decision behind one
// mutex rather than one per group: ext2 images are small enough that
// contention is not a design concern.
// Lock ordering package-wide: VFS → Allocator → Group → Cache.
type Allocator struct {
	mu sync.Mutex

	sb     *Superblock
	groups []*Group
	cache  *Cache
	log    *logrus.Entry

	reserved ReservedBlockPolicy
}

func newAllocator(sb *Superblock, groups []*Group, cache *Cache, log *logrus.Entry, reserved ReservedBlockPolicy) *Allocator {
	if reserved == nil {
		reserved = denyReserved
	}
	return &Allocator{sb: sb, groups: groups, cache: cache, log: log, reserved: reserved}
}

func (a *Allocator) groupFor(blockID uint32) (*Group, uint32) {
	rel := blockID - a.sb.FirstDataBlock
	idx := rel / a.sb.BlocksPerGroup
	within := rel % a.sb.BlocksPerGroup
	return a.groups[idx], within
}

// AllocBlock allocates one free data/metadata block, preferring groupHint
// when it has room: blocks for a file should land in its inode's home
// group when possible.
func (a *Allocator) AllocBlock(groupHint uint32, uid uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sb.FreeBlocksCount == 0 {
		return 0, ErrNoFreeBlocks
	}
	if a.sb.FreeBlocksCount <= a.sb.RBlocksCount && !a.reserved(uid) {
		return 0, ErrNoFreeBlocks
	}

	order := a.groupOrder(groupHint)
	for _, gi := range order {
		g := a.groups[gi]
		if g.desc.FreeBlocksCount == 0 {
			continue
		}
		bit, block, err := a.allocInGroupBitmap(g, g.desc.BlockBitmap, int(g.blocksInGroup))
		if err != nil {
			return 0, err
		}
		if bit < 0 {
			continue
		}
		g.desc.FreeBlocksCount--
		if err := g.writeBack(a.cache); err != nil {
			return 0, err
		}
		a.sb.FreeBlocksCount--
		if err := a.writeBackSuper(); err != nil {
			return 0, err
		}
		absolute := a.sb.FirstDataBlock + gi*a.sb.BlocksPerGroup + uint32(bit)
		_ = block
		return absolute, nil
	}
	return 0, ErrNoFreeBlocks
}

// FreeBlock releases blockID back to its group's bitmap.
func (a *Allocator) FreeBlock(blockID uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, within := a.groupFor(blockID)
	err := a.cache.Modify(g.desc.BlockBitmap, 0, func(data []byte) error {
		if !bitmapTest(data, int(within)) {
			return newErr("free_block", "", KindNotSupported, "double free")
		}
		bitmapClear(data, int(within))
		return nil
	})
	if err != nil {
		return err
	}
	g.desc.FreeBlocksCount++
	if err := g.writeBack(a.cache); err != nil {
		return err
	}
	a.sb.FreeBlocksCount++
	return a.writeBackSuper()
}

// AllocInode allocates one free inode, preferring groupHint. isDir biases
// toward groups with fewer directories already, in the spirit of Orlov-style
// locality without implementing its exact scoring.
func (a *Allocator) AllocInode(groupHint uint32, isDir bool) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sb.FreeInodesCount == 0 {
		return 0, ErrNoFreeInodes
	}

	order := a.groupOrder(groupHint)
	if isDir {
		order = a.orderByFewestDirs(order)
	}
	for _, gi := range order {
		g := a.groups[gi]
		if g.desc.FreeInodesCount == 0 {
			continue
		}
		bit, _, err := a.allocInGroupBitmap(g, g.desc.InodeBitmap, int(g.inodesInGroup))
		if err != nil {
			return 0, err
		}
		if bit < 0 {
			continue
		}
		g.desc.FreeInodesCount--
		if isDir {
			g.desc.UsedDirsCount++
		}
		if err := g.writeBack(a.cache); err != nil {
			return 0, err
		}
		a.sb.FreeInodesCount--
		if err := a.writeBackSuper(); err != nil {
			return 0, err
		}
		// Inode numbers are 1-based.
		return gi*a.sb.InodesPerGroup + uint32(bit) + 1, nil
	}
	return 0, ErrNoFreeInodes
}

// FreeInode releases inodeNum back to its group's bitmap.
func (a *Allocator) FreeInode(inodeNum uint32, wasDir bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	gi, within := a.inodeLocation(inodeNum)
	g := a.groups[gi]
	err := a.cache.Modify(g.desc.InodeBitmap, 0, func(data []byte) error {
		if !bitmapTest(data, int(within)) {
			return newErr("free_inode", "", KindNotSupported, "double free")
		}
		bitmapClear(data, int(within))
		return nil
	})
	if err != nil {
		return err
	}
	g.desc.FreeInodesCount++
	if wasDir && g.desc.UsedDirsCount > 0 {
		g.desc.UsedDirsCount--
	}
	if err := g.writeBack(a.cache); err != nil {
		return err
	}
	a.sb.FreeInodesCount++
	return a.writeBackSuper()
}

// InodeTableLocation returns the block and byte offset of inodeNum's
// on-disk record, used by inode.go to read or write it.
func (a *Allocator) InodeTableLocation(inodeNum uint32) (block uint32, offset int) {
	gi, within := a.inodeLocation(inodeNum)
	g := a.groups[gi]
	recSize := uint32(a.sb.InodeSize)
	offInTable := within * recSize
	block = g.desc.InodeTable + offInTable/BlockSize
	offset = int(offInTable % BlockSize)
	return
}

func (a *Allocator) inodeLocation(inodeNum uint32) (group uint32, within uint32) {
	idx := inodeNum - 1
	return idx / a.sb.InodesPerGroup, idx % a.sb.InodesPerGroup
}

// allocInGroupBitmap finds and sets the first free bit below limit in the
// bitmap stored at bitmapBlock. Returns bit -1 if the group is actually
// full despite a stale free-count (a corruption condition callers treat
// as "try next group" rather than fail outright).
func (a *Allocator) allocInGroupBitmap(g *Group, bitmapBlock uint32, limit int) (bit int, blk uint32, err error) {
	bit = -1
	err = a.cache.Modify(bitmapBlock, 0, func(data []byte) error {
		found, ok := bitmapFindFree(data)
		if !ok || found >= limit {
			return nil
		}
		bitmapSet(data, found)
		bit = found
		return nil
	})
	return bit, bitmapBlock, err
}

// groupOrder returns group indices starting at hint and wrapping around,
// so locality is attempted first without ever failing an allocation that
// some other group could satisfy.
func (a *Allocator) groupOrder(hint uint32) []uint32 {
	n := uint32(len(a.groups))
	if n == 0 {
		return nil
	}
	hint %= n
	order := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		order[i] = (hint + i) % n
	}
	return order
}

func (a *Allocator) orderByFewestDirs(order []uint32) []uint32 {
	out := make([]uint32, len(order))
	copy(out, order)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && a.groups[out[j]].desc.UsedDirsCount < a.groups[out[j-1]].desc.UsedDirsCount; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (a *Allocator) writeBackSuper() error {
	buf, err := a.sb.marshalBinary()
	if err != nil {
		return err
	}
	return a.cache.Modify(0, superblockOffset, func(data []byte) error {
		copy(data[:len(buf)], buf)
		return nil
	})
}

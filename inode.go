package ext2

import (
	"io"
	"sync"
	"time"
)

// Inode is the in-memory handle for one on-disk inode record: a decoded
// inode plus the read/write logic over its direct/indirect block-pointer
// tree.
type Inode struct {
	fs  *FileSystem
	num uint32

	mu   sync.Mutex
	disk diskInode
}

func loadInode(fsys *FileSystem, num uint32) (*Inode, error) {
	block, offset := fsys.alloc.InodeTableLocation(num)
	var d diskInode
	err := fsys.cache.View(block, offset, func(data []byte) error {
		d = decodeDiskInode(data[:diskInodeSize])
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.SizeHigh != 0 && fileTypeFromMode(d.Mode) != TypeRegular {
		panic("ext2: non-zero size_high on a non-regular inode")
	}
	return &Inode{fs: fsys, num: num, disk: d}, nil
}

// flush writes the in-memory record back to its table slot. Caller must
// hold i.mu.
func (i *Inode) flush() error {
	block, offset := i.fs.alloc.InodeTableLocation(i.num)
	return i.fs.cache.Modify(block, offset, func(data []byte) error {
		encodeDiskInode(i.disk, data[:diskInodeSize])
		return nil
	})
}

// Num returns the inode number (1-based).
func (i *Inode) Num() uint32 { return i.num }

// Type returns the file type tag derived from the inode's mode field.
func (i *Inode) Type() FileType {
	i.mu.Lock()
	defer i.mu.Unlock()
	return fileTypeFromMode(i.disk.Mode)
}

func (i *Inode) IsDir() bool     { return i.Type().IsDir() }
func (i *Inode) IsRegular() bool { return i.Type().IsRegular() }
func (i *Inode) IsSymlink() bool { return i.Type().IsSymlink() }

// Size returns the current logical size in bytes.
func (i *Inode) Size() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disk.size()
}

// Metadata returns the POSIX attribute surface.
func (i *Inode) Metadata() Metadata {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Metadata{
		Type:    fileTypeFromMode(i.disk.Mode),
		Mode:    unixToMode(i.disk.Mode),
		Uid:     uint32(i.disk.Uid),
		Gid:     uint32(i.disk.Gid),
		Size:    i.disk.size(),
		Links:   uint32(i.disk.LinksCount),
		Atime:   time.Unix(int64(i.disk.Atime), 0).UTC(),
		Ctime:   time.Unix(int64(i.disk.Ctime), 0).UTC(),
		Mtime:   time.Unix(int64(i.disk.Mtime), 0).UTC(),
		InodeNo: i.num,
	}
}

// setTimes stamps atime/ctime/mtime. now is supplied by the caller: wall
// clock access belongs to the VFS layer, not the inode layer, so tests
// can supply deterministic times.
func (i *Inode) setTimes(now time.Time, atime, ctime, mtime bool) {
	t := uint32(now.Unix())
	if atime {
		i.disk.Atime = t
	}
	if ctime {
		i.disk.Ctime = t
	}
	if mtime {
		i.disk.Mtime = t
	}
}

// resolveBlock maps a logical block index to a physical block number.
// When alloc is true, missing direct and indirect-table blocks are
// allocated and zeroed as the chain is walked, growing the tree by one
// leaf; when false, a hole (logical block never written) returns 0.
func (i *Inode) resolveBlock(logical uint64, alloc bool) (uint32, error) {
	if logical >= maxBlocksForTriple() {
		return 0, ErrTooLargeFile
	}
	level, offs := blockIndexPath(logical)
	groupHint := (i.num - 1) / i.fs.sb.InodesPerGroup

	switch level {
	case 0:
		return i.resolveSlot(&i.disk.Block[offs[0]], groupHint, alloc)
	case 1:
		indBlock, err := i.resolveSlot(&i.disk.Block[idxSingleIndirect], groupHint, alloc)
		if err != nil || indBlock == 0 {
			return 0, err
		}
		return i.resolveInBlock(indBlock, offs[0], groupHint, alloc)
	case 2:
		indBlock, err := i.resolveSlot(&i.disk.Block[idxDoubleIndirect], groupHint, alloc)
		if err != nil || indBlock == 0 {
			return 0, err
		}
		midBlock, err := i.resolveSlotInBlock(indBlock, offs[0], groupHint, alloc)
		if err != nil || midBlock == 0 {
			return 0, err
		}
		return i.resolveInBlock(midBlock, offs[1], groupHint, alloc)
	case 3:
		indBlock, err := i.resolveSlot(&i.disk.Block[idxTripleIndirect], groupHint, alloc)
		if err != nil || indBlock == 0 {
			return 0, err
		}
		midBlock, err := i.resolveSlotInBlock(indBlock, offs[0], groupHint, alloc)
		if err != nil || midBlock == 0 {
			return 0, err
		}
		leafTable, err := i.resolveSlotInBlock(midBlock, offs[1], groupHint, alloc)
		if err != nil || leafTable == 0 {
			return 0, err
		}
		return i.resolveInBlock(leafTable, offs[2], groupHint, alloc)
	}
	return 0, ErrTooLargeFile
}

// resolveSlot reads/allocates the block pointer held directly in *slot
// (a direct pointer or one of the three indirect-root pointers).
func (i *Inode) resolveSlot(slot *uint32, groupHint uint32, alloc bool) (uint32, error) {
	if *slot != 0 {
		return *slot, nil
	}
	if !alloc {
		return 0, nil
	}
	b, err := i.fs.alloc.AllocBlock(groupHint, i.disk.Uid32())
	if err != nil {
		return 0, err
	}
	if err := i.fs.cache.Zero(b); err != nil {
		return 0, err
	}
	*slot = b
	i.disk.Blocks512 += BlockSize / 512
	return b, nil
}

// resolveInBlock reads/allocates the pointer at index idx within the
// indirect block physBlock, returning the leaf block it names.
func (i *Inode) resolveInBlock(physBlock uint32, idx uint64, groupHint uint32, alloc bool) (uint32, error) {
	return i.resolveSlotInBlock(physBlock, idx, groupHint, alloc)
}

func (i *Inode) resolveSlotInBlock(physBlock uint32, idx uint64, groupHint uint32, alloc bool) (uint32, error) {
	off := int(idx * 4)
	var existing uint32
	err := i.fs.cache.View(physBlock, off, func(data []byte) error {
		existing = leUint32(data[:4])
		return nil
	})
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return existing, nil
	}
	if !alloc {
		return 0, nil
	}
	b, err := i.fs.alloc.AllocBlock(groupHint, i.disk.Uid32())
	if err != nil {
		return 0, err
	}
	if err := i.fs.cache.Zero(b); err != nil {
		return 0, err
	}
	err = i.fs.cache.Modify(physBlock, off, func(data []byte) error {
		putLeUint32(data[:4], b)
		return nil
	})
	if err != nil {
		return 0, err
	}
	i.disk.Blocks512 += BlockSize / 512
	return b, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Uid32 widens the 16-bit on-disk uid field for allocator reserved-block
// checks.
func (d *diskInode) Uid32() uint32 { return uint32(d.Uid) }

// ReadAt implements io.ReaderAt over the inode's logical byte stream.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	size := i.disk.size()
	if uint64(off) >= size {
		return 0, io.EOF
	}
	want := len(p)
	if uint64(off)+uint64(len(p)) > size {
		p = p[:size-uint64(off)]
	}

	total := 0
	for len(p) > 0 {
		logical := uint64(off) / BlockSize
		within := int(uint64(off) % BlockSize)
		phys, err := i.resolveBlock(logical, false)
		if err != nil {
			return total, err
		}
		n := BlockSize - within
		if n > len(p) {
			n = len(p)
		}
		if phys == 0 {
			for k := 0; k < n; k++ {
				p[k] = 0
			}
		} else {
			err := i.fs.cache.View(phys, within, func(data []byte) error {
				copy(p[:n], data[:n])
				return nil
			})
			if err != nil {
				return total, err
			}
		}
		p = p[n:]
		off += int64(n)
		total += n
	}
	if total < want {
		return total, io.EOF
	}
	return total, nil
}

// WriteAt implements io.WriterAt, growing the block tree and the logical
// size as needed.
func (i *Inode) WriteAt(p []byte, off int64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	total := 0
	for len(p) > 0 {
		logical := uint64(off) / BlockSize
		within := int(uint64(off) % BlockSize)
		phys, err := i.resolveBlock(logical, true)
		if err != nil {
			return total, err
		}
		n := BlockSize - within
		if n > len(p) {
			n = len(p)
		}
		err = i.fs.cache.Modify(phys, within, func(data []byte) error {
			copy(data[:n], p[:n])
			return nil
		})
		if err != nil {
			return total, err
		}
		p = p[n:]
		off += int64(n)
		total += n
	}
	if newSize := uint64(off); newSize > i.disk.size() {
		i.disk.setSize(newSize)
	}
	if err := i.flush(); err != nil {
		return total, err
	}
	return total, nil
}

// Truncate grows or shrinks the logical size. Growing never allocates:
// the new range reads back as a hole until written, same as a seek past
// EOF followed by a write. Shrinking walks file-block indices from high
// to low, releasing every data and indirect block that falls entirely
// past the new size before the size field itself is updated.
func (i *Inode) Truncate(size uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if size < i.disk.size() {
		if err := i.freeBlocksFrom(blockCount(size)); err != nil {
			return err
		}
	}
	i.disk.setSize(size)
	return i.flush()
}

// blockCount returns the number of logical blocks needed to hold size
// bytes.
func blockCount(size uint64) uint64 {
	return (size + BlockSize - 1) / BlockSize
}

// freeAllBlocks releases every data and indirection block this inode
// owns, walking the same direct/indirect tree resolveBlock addresses, and
// is called once an unlink has dropped the link count to zero.
func (i *Inode) freeAllBlocks() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx := 0; idx < numDirect; idx++ {
		if err := i.freeSlot(&i.disk.Block[idx], 0); err != nil {
			return err
		}
	}
	if err := i.freeIndirectChain(&i.disk.Block[idxSingleIndirect], 0); err != nil {
		return err
	}
	if err := i.freeIndirectChain(&i.disk.Block[idxDoubleIndirect], 1); err != nil {
		return err
	}
	if err := i.freeIndirectChain(&i.disk.Block[idxTripleIndirect], 2); err != nil {
		return err
	}
	i.disk.setSize(0)
	i.disk.Blocks512 = 0
	return i.flush()
}

// freeBlockAccounted frees one block and debits it from the inode's
// 512-byte-sector usage counter (i_blocks).
func (i *Inode) freeBlockAccounted(block uint32) error {
	if err := i.fs.alloc.FreeBlock(block); err != nil {
		return err
	}
	if i.disk.Blocks512 >= sectorsPerBlock {
		i.disk.Blocks512 -= sectorsPerBlock
	} else {
		i.disk.Blocks512 = 0
	}
	return nil
}

func (i *Inode) freeSlot(slot *uint32, depth int) error {
	if *slot == 0 {
		return nil
	}
	if depth > 0 {
		if err := i.freeIndirectChain(slot, depth-1); err != nil {
			return err
		}
		return nil
	}
	if err := i.freeBlockAccounted(*slot); err != nil {
		return err
	}
	*slot = 0
	return nil
}

// freeIndirectChain frees the indirect block at *slot (if any) after first
// freeing, at the given depth, everything it points to: depth 0 means its
// pointers are leaves, depth 1 means its pointers are themselves
// indirect blocks, and so on. A pointer at depth > 0 is freed entirely by
// its own recursive call (which frees both its subtree and itself), so
// the loop must not free it again afterward.
func (i *Inode) freeIndirectChain(slot *uint32, depth int) error {
	if *slot == 0 {
		return nil
	}
	block := *slot
	for idx := 0; idx < pointersPerBlock; idx++ {
		var ptr uint32
		err := i.fs.cache.View(block, idx*4, func(data []byte) error {
			ptr = leUint32(data[:4])
			return nil
		})
		if err != nil {
			return err
		}
		if ptr == 0 {
			continue
		}
		if depth > 0 {
			p := ptr
			if err := i.freeIndirectChain(&p, depth-1); err != nil {
				return err
			}
			continue
		}
		if err := i.freeBlockAccounted(ptr); err != nil {
			return err
		}
	}
	if err := i.freeBlockAccounted(block); err != nil {
		return err
	}
	*slot = 0
	return nil
}

// freeBlocksFrom releases every data and indirect block whose logical
// block range falls at or past `keep`, walking from the highest-indexed
// range (triple indirect) down to the direct pointers, so a crash
// midway never frees a low block while a high one it depended on for
// addressing survives.
func (i *Inode) freeBlocksFrom(keep uint64) error {
	p := uint64(pointersPerBlock)

	if err := i.freeIndirectRange(&i.disk.Block[idxTripleIndirect], 2, numDirect+p+p*p, keep); err != nil {
		return err
	}
	if err := i.freeIndirectRange(&i.disk.Block[idxDoubleIndirect], 1, numDirect+p, keep); err != nil {
		return err
	}
	if err := i.freeIndirectRange(&i.disk.Block[idxSingleIndirect], 0, numDirect, keep); err != nil {
		return err
	}
	for idx := numDirect - 1; idx >= 0; idx-- {
		if uint64(idx) >= keep {
			if err := i.freeSlot(&i.disk.Block[idx], 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// freeIndirectRange frees the portion of the subtree rooted at *slot that
// covers logical blocks [base, base+span), keeping anything below keep.
// depth follows freeIndirectChain's convention: 0 means *slot's own
// pointers are leaf data blocks, depth > 0 means they are themselves
// indirect tables one level shallower. If every entry ends up freed, the
// table block itself is freed and *slot cleared.
func (i *Inode) freeIndirectRange(slot *uint32, depth int, base, keep uint64) error {
	if *slot == 0 {
		return nil
	}
	if base >= keep {
		return i.freeIndirectChain(slot, depth)
	}
	p := uint64(pointersPerBlock)
	span := p
	for d := 0; d < depth; d++ {
		span *= p
	}
	if base+span <= keep {
		return nil
	}

	block := *slot
	childSpan := span / p
	anyRemaining := false
	for idx := int(p) - 1; idx >= 0; idx-- {
		childBase := base + uint64(idx)*childSpan
		off := idx * 4
		var ptr uint32
		err := i.fs.cache.View(block, off, func(data []byte) error {
			ptr = leUint32(data[:4])
			return nil
		})
		if err != nil {
			return err
		}
		if ptr == 0 {
			continue
		}
		switch {
		case childBase >= keep:
			if depth > 0 {
				p2 := ptr
				if err := i.freeIndirectChain(&p2, depth-1); err != nil {
					return err
				}
			} else {
				if err := i.freeBlockAccounted(ptr); err != nil {
					return err
				}
			}
			if err := i.fs.cache.Modify(block, off, func(data []byte) error {
				data[0], data[1], data[2], data[3] = 0, 0, 0, 0
				return nil
			}); err != nil {
				return err
			}
		case childBase+childSpan <= keep:
			anyRemaining = true
		default:
			if depth > 0 {
				p2 := ptr
				if err := i.freeIndirectRange(&p2, depth-1, childBase, keep); err != nil {
					return err
				}
				if p2 == 0 {
					if err := i.fs.cache.Modify(block, off, func(data []byte) error {
						data[0], data[1], data[2], data[3] = 0, 0, 0, 0
						return nil
					}); err != nil {
						return err
					}
					continue
				}
			}
			anyRemaining = true
		}
	}
	if !anyRemaining {
		if err := i.freeBlockAccounted(block); err != nil {
			return err
		}
		*slot = 0
	}
	return nil
}

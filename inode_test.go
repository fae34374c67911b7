package ext2

import "testing"

func TestInodeWriteAtGrowsSize(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	parent := fsys.root
	groupHint := (parent.num - 1) / fsys.sb.InodesPerGroup
	inoNum, err := fsys.alloc.AllocInode(groupHint, false)
	if err != nil {
		t.Fatalf("alloc inode: %s", err)
	}
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{Mode: sIFREG | 0644, LinksCount: 1}}
	if err := ino.flush(); err != nil {
		t.Fatalf("flush: %s", err)
	}

	payload := []byte("abcdef")
	if _, err := ino.WriteAt(payload, 100); err != nil {
		t.Fatalf("write: %s", err)
	}
	if got := ino.Size(); got != 106 {
		t.Fatalf("size = %d, want 106", got)
	}

	buf := make([]byte, 6)
	if _, err := ino.ReadAt(buf, 100); err != nil {
		t.Fatalf("read: %s", err)
	}
	if string(buf) != "abcdef" {
		t.Fatalf("readback mismatch: %q", buf)
	}
}

func TestInodeReadAtHoleReturnsZeros(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	inoNum, err := fsys.alloc.AllocInode(0, false)
	if err != nil {
		t.Fatalf("alloc inode: %s", err)
	}
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{Mode: sIFREG | 0644, LinksCount: 1}}
	if err := ino.flush(); err != nil {
		t.Fatalf("flush: %s", err)
	}
	if _, err := ino.WriteAt([]byte("x"), int64(BlockSize*3)); err != nil {
		t.Fatalf("write: %s", err)
	}

	buf := make([]byte, BlockSize)
	if _, err := ino.ReadAt(buf, 0); err != nil {
		t.Fatalf("read hole: %s", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("expected zero at %d, got %d", i, b)
		}
	}
}

func TestInodeFreeAllBlocksReclaimsSpace(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	freeBefore := fsys.sb.FreeBlocksCount

	inoNum, err := fsys.alloc.AllocInode(0, false)
	if err != nil {
		t.Fatalf("alloc inode: %s", err)
	}
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{Mode: sIFREG | 0644, LinksCount: 1}}
	if err := ino.flush(); err != nil {
		t.Fatalf("flush: %s", err)
	}

	payload := make([]byte, BlockSize*15) // spans into single-indirect
	if _, err := ino.WriteAt(payload, 0); err != nil {
		t.Fatalf("write: %s", err)
	}
	if fsys.sb.FreeBlocksCount >= freeBefore {
		t.Fatalf("expected blocks consumed after write")
	}

	if err := ino.freeAllBlocks(); err != nil {
		t.Fatalf("free all blocks: %s", err)
	}
	if ino.Size() != 0 {
		t.Fatalf("expected size 0 after freeAllBlocks, got %d", ino.Size())
	}
	if fsys.sb.FreeBlocksCount != freeBefore {
		t.Fatalf("blocks not fully reclaimed: got %d want %d", fsys.sb.FreeBlocksCount, freeBefore)
	}
}

func TestInodeTruncateShrinkReclaimsDirectBlocks(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	freeBefore := fsys.sb.FreeBlocksCount

	inoNum, err := fsys.alloc.AllocInode(0, false)
	if err != nil {
		t.Fatalf("alloc inode: %s", err)
	}
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{Mode: sIFREG | 0644, LinksCount: 1}}
	if err := ino.flush(); err != nil {
		t.Fatalf("flush: %s", err)
	}

	if _, err := ino.WriteAt(make([]byte, BlockSize*numDirect), 0); err != nil {
		t.Fatalf("write: %s", err)
	}
	freeAfterWrite := fsys.sb.FreeBlocksCount
	if freeAfterWrite >= freeBefore {
		t.Fatalf("expected blocks consumed after write")
	}

	if err := ino.Truncate(BlockSize * 2); err != nil {
		t.Fatalf("truncate: %s", err)
	}
	if ino.Size() != BlockSize*2 {
		t.Fatalf("size = %d, want %d", ino.Size(), BlockSize*2)
	}
	wantFree := freeBefore - 2
	if fsys.sb.FreeBlocksCount != wantFree {
		t.Fatalf("free blocks = %d, want %d", fsys.sb.FreeBlocksCount, wantFree)
	}

	// Growing back out and reading the tail must show zeros (a hole),
	// never stale data left over from before the shrink.
	if err := ino.Truncate(BlockSize * numDirect); err != nil {
		t.Fatalf("grow back: %s", err)
	}
	buf := make([]byte, BlockSize)
	if _, err := ino.ReadAt(buf, BlockSize*(numDirect-1)); err != nil {
		t.Fatalf("read tail: %s", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("expected zero at %d after grow-back, got %d", i, b)
		}
	}
}

func TestInodeTruncateShrinkReclaimsIndirectBlocks(t *testing.T) {
	dev := newTestDevice(8192)
	fsys, err := MkFS(dev, 8192)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	freeBefore := fsys.sb.FreeBlocksCount

	inoNum, err := fsys.alloc.AllocInode(0, false)
	if err != nil {
		t.Fatalf("alloc inode: %s", err)
	}
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{Mode: sIFREG | 0644, LinksCount: 1}}
	if err := ino.flush(); err != nil {
		t.Fatalf("flush: %s", err)
	}

	// 20 blocks spans past the 12 direct pointers into single-indirect.
	if _, err := ino.WriteAt(make([]byte, BlockSize*20), 0); err != nil {
		t.Fatalf("write: %s", err)
	}
	if fsys.sb.FreeBlocksCount >= freeBefore {
		t.Fatalf("expected blocks consumed after write")
	}

	// Shrink back to entirely within the direct range: every
	// single-indirect leaf plus the indirect block itself must be freed.
	if err := ino.Truncate(BlockSize * 5); err != nil {
		t.Fatalf("truncate: %s", err)
	}
	wantFree := freeBefore - 5
	if fsys.sb.FreeBlocksCount != wantFree {
		t.Fatalf("free blocks = %d, want %d", fsys.sb.FreeBlocksCount, wantFree)
	}
	if ino.disk.Block[idxSingleIndirect] != 0 {
		t.Fatalf("expected single-indirect pointer cleared after full reclaim")
	}

	if err := ino.freeAllBlocks(); err != nil {
		t.Fatalf("free all blocks: %s", err)
	}
	if fsys.sb.FreeBlocksCount != freeBefore {
		t.Fatalf("blocks not fully reclaimed: got %d want %d", fsys.sb.FreeBlocksCount, freeBefore)
	}
}

package ext2

import "testing"

func TestBlockIndexPathDirect(t *testing.T) {
	level, offs := blockIndexPath(0)
	if level != 0 || offs[0] != 0 {
		t.Fatalf("got level=%d offs=%v", level, offs)
	}
	level, offs = blockIndexPath(11)
	if level != 0 || offs[0] != 11 {
		t.Fatalf("got level=%d offs=%v", level, offs)
	}
}

func TestBlockIndexPathSingleIndirect(t *testing.T) {
	level, offs := blockIndexPath(numDirect)
	if level != 1 || offs[0] != 0 {
		t.Fatalf("got level=%d offs=%v", level, offs)
	}
	level, offs = blockIndexPath(numDirect + pointersPerBlock - 1)
	if level != 1 || offs[0] != pointersPerBlock-1 {
		t.Fatalf("got level=%d offs=%v", level, offs)
	}
}

func TestBlockIndexPathDoubleIndirect(t *testing.T) {
	start := uint64(numDirect + pointersPerBlock)
	level, offs := blockIndexPath(start)
	if level != 2 || offs[0] != 0 || offs[1] != 0 {
		t.Fatalf("got level=%d offs=%v", level, offs)
	}
	level, offs = blockIndexPath(start + pointersPerBlock + 1)
	if level != 2 || offs[0] != 1 || offs[1] != 1 {
		t.Fatalf("got level=%d offs=%v", level, offs)
	}
}

func TestBlockIndexPathTripleIndirect(t *testing.T) {
	start := uint64(numDirect + pointersPerBlock + pointersPerBlock*pointersPerBlock)
	level, offs := blockIndexPath(start)
	if level != 3 || offs != [3]uint64{0, 0, 0} {
		t.Fatalf("got level=%d offs=%v", level, offs)
	}
}

func TestBlockIndexPathOverflow(t *testing.T) {
	level, _ := blockIndexPath(maxBlocksForTriple())
	if level != -1 {
		t.Fatalf("expected overflow sentinel, got level=%d", level)
	}
}

func TestDiskInodeRoundTrip(t *testing.T) {
	d := diskInode{
		Mode:       sIFREG | 0644,
		Uid:        1000,
		Gid:        1000,
		LinksCount: 1,
		Atime:      111,
		Ctime:      222,
		Mtime:      333,
	}
	d.setSize(1 << 33) // exercises SizeHigh
	d.Block[0] = 42
	d.Block[numBlockPointers-1] = 7

	buf := make([]byte, diskInodeSize)
	encodeDiskInode(d, buf)
	got := decodeDiskInode(buf)

	if got.Mode != d.Mode || got.Uid != d.Uid || got.Gid != d.Gid {
		t.Fatalf("basic fields mismatch: %+v", got)
	}
	if got.size() != d.size() {
		t.Fatalf("size mismatch: got %d want %d", got.size(), d.size())
	}
	if got.Block[0] != 42 || got.Block[numBlockPointers-1] != 7 {
		t.Fatalf("block pointers mismatch: %+v", got.Block)
	}
}

package ext2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testDevice is a minimal in-memory BlockDevice for allocator-internals
// tests that need direct access to unexported FileSystem fields.
type testDevice struct {
	data []byte
}

func newTestDevice(blocks uint32) *testDevice {
	return &testDevice{data: make([]byte, uint64(blocks)*BlockSize)}
}

func (d *testDevice) SectorSize() int { return SectorSize }

func (d *testDevice) ReadSector(sector uint64, buf []byte) error {
	off := sector * uint64(SectorSize)
	copy(buf, d.data[off:off+uint64(len(buf))])
	return nil
}

func (d *testDevice) WriteSector(sector uint64, buf []byte) error {
	off := sector * uint64(SectorSize)
	copy(d.data[off:off+uint64(len(buf))], buf)
	return nil
}

func TestAllocatorBlockRoundTrip(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	require.NoError(t, err)

	freeBefore := fsys.sb.FreeBlocksCount

	blk, err := fsys.alloc.AllocBlock(0, 0)
	require.NoError(t, err)
	require.NotZero(t, blk)
	require.Equal(t, freeBefore-1, fsys.sb.FreeBlocksCount)

	require.NoError(t, fsys.alloc.FreeBlock(blk))
	require.Equal(t, freeBefore, fsys.sb.FreeBlocksCount)
}

func TestAllocatorDoubleFreeRejected(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	require.NoError(t, err)

	blk, err := fsys.alloc.AllocBlock(0, 0)
	require.NoError(t, err)
	require.NoError(t, fsys.alloc.FreeBlock(blk))
	require.Error(t, fsys.alloc.FreeBlock(blk))
}

func TestAllocatorExhaustion(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	require.NoError(t, err)

	fsys.sb.FreeBlocksCount = 0
	_, err = fsys.alloc.AllocBlock(0, 0)
	require.ErrorIs(t, err, ErrNoFreeBlocks)
}

func TestAllocatorInodeRoundTrip(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	require.NoError(t, err)

	freeBefore := fsys.sb.FreeInodesCount
	ino, err := fsys.alloc.AllocInode(0, false)
	require.NoError(t, err)
	require.NotZero(t, ino)
	require.Equal(t, freeBefore-1, fsys.sb.FreeInodesCount)

	require.NoError(t, fsys.alloc.FreeInode(ino, false))
	require.Equal(t, freeBefore, fsys.sb.FreeInodesCount)
}

func TestGroupOrderWrapsAroundHint(t *testing.T) {
	a := &Allocator{groups: make([]*Group, 4)}
	order := a.groupOrder(2)
	want := []uint32{2, 3, 0, 1}
	require.Equal(t, want, order)
}

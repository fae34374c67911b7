package ext2_test

import (
	"io"
	"testing"

	"github.com/blocklayer/ext2fs"
)

// memDevice is an in-memory BlockDevice for tests, avoiding any real file
// on disk while still exercising the same sector-granularity contract
// FileBlockDevice implements.
type memDevice struct {
	sectorSize int
	data       []byte
}

func newMemDevice(t *testing.T, blocks uint32) *memDevice {
	t.Helper()
	return &memDevice{sectorSize: ext2.SectorSize, data: make([]byte, uint64(blocks)*ext2.BlockSize)}
}

func (d *memDevice) SectorSize() int { return d.sectorSize }

func (d *memDevice) ReadSector(sector uint64, buf []byte) error {
	off := sector * uint64(d.sectorSize)
	copy(buf, d.data[off:off+uint64(len(buf))])
	return nil
}

func (d *memDevice) WriteSector(sector uint64, buf []byte) error {
	off := sector * uint64(d.sectorSize)
	copy(d.data[off:off+uint64(len(buf))], buf)
	return nil
}

func mustMkfs(t *testing.T, blocks uint32) *ext2.FileSystem {
	t.Helper()
	dev := newMemDevice(t, blocks)
	fsys, err := ext2.MkFS(dev, blocks)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	return fsys
}

func TestMkfsRootDir(t *testing.T) {
	fsys := mustMkfs(t, 4096)

	meta, err := fsys.Metadata("/")
	if err != nil {
		t.Fatalf("metadata /: %s", err)
	}
	if !meta.IsDir() {
		t.Fatalf("root is not a directory")
	}

	entries, err := fsys.ReadDir("/")
	if err != nil {
		t.Fatalf("readdir /: %s", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root, got %d entries", len(entries))
	}
}

func TestCreateFileReadWrite(t *testing.T) {
	fsys := mustMkfs(t, 4096)

	f, err := fsys.CreateFile("/hello.txt", 0644, 1000, 1000)
	if err != nil {
		t.Fatalf("create: %s", err)
	}

	payload := []byte("hello ext2 world")
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("write: %s", err)
	}

	got := make([]byte, len(payload))
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatalf("read: %s", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("readback mismatch: got %q want %q", got, payload)
	}

	meta, err := fsys.Metadata("/hello.txt")
	if err != nil {
		t.Fatalf("metadata: %s", err)
	}
	if meta.Size != uint64(len(payload)) {
		t.Fatalf("size mismatch: got %d want %d", meta.Size, len(payload))
	}
}

func TestCreateFileLargeSpansIndirectBlocks(t *testing.T) {
	fsys := mustMkfs(t, 8192)

	f, err := fsys.CreateFile("/big.bin", 0644, 0, 0)
	if err != nil {
		t.Fatalf("create: %s", err)
	}

	// 12 direct blocks is 48 KiB; write well past that into single-indirect
	// territory to exercise resolveBlock's allocation path there too.
	size := 20 * ext2.BlockSize
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("write: %s", err)
	}

	got := make([]byte, size)
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatalf("read: %s", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("mismatch at byte %d: got %d want %d", i, got[i], payload[i])
		}
	}
}

func TestTruncateShrinkFreesBlocks(t *testing.T) {
	fsys := mustMkfs(t, 8192)

	f, err := fsys.CreateFile("/shrink.bin", 0644, 0, 0)
	if err != nil {
		t.Fatalf("create: %s", err)
	}

	freeBefore := fsys.Superblock().FreeBlocksCount

	// 8192 bytes spans multiple direct blocks; growing then shrinking
	// well below that must release every block beyond the new size.
	payload := make([]byte, 8192)
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("write: %s", err)
	}
	freeAfterWrite := fsys.Superblock().FreeBlocksCount
	if freeAfterWrite >= freeBefore {
		t.Fatalf("expected free blocks to drop after write, got %d (was %d)", freeAfterWrite, freeBefore)
	}

	if err := f.Truncate(3000); err != nil {
		t.Fatalf("truncate down: %s", err)
	}
	freeAfterShrink := fsys.Superblock().FreeBlocksCount
	if freeAfterShrink <= freeAfterWrite {
		t.Fatalf("expected free blocks to recover after shrink, got %d (was %d after write)", freeAfterShrink, freeAfterWrite)
	}

	meta, err := fsys.Metadata("/shrink.bin")
	if err != nil {
		t.Fatalf("metadata: %s", err)
	}
	if meta.Size != 3000 {
		t.Fatalf("expected size 3000, got %d", meta.Size)
	}

	// Growing back to the original size, then shrinking to the
	// intermediate size again, must reach the same free-block count as
	// right after the first shrink: set_len(n) -> set_len(m) ->
	// set_len(n) leaves counters unchanged when m >= n is not asked for
	// here, but repeating set_len(3000) after growing must not leak.
	if err := f.Truncate(8192); err != nil {
		t.Fatalf("truncate up: %s", err)
	}
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("rewrite: %s", err)
	}
	if err := f.Truncate(3000); err != nil {
		t.Fatalf("truncate down again: %s", err)
	}
	freeAfterSecondShrink := fsys.Superblock().FreeBlocksCount
	if freeAfterSecondShrink != freeAfterShrink {
		t.Fatalf("expected free blocks %d after repeated shrink, got %d", freeAfterShrink, freeAfterSecondShrink)
	}
}

func TestMkdirAndNesting(t *testing.T) {
	fsys := mustMkfs(t, 4096)

	if err := fsys.CreateDir("/etc", 0755, 0, 0); err != nil {
		t.Fatalf("mkdir /etc: %s", err)
	}
	if err := fsys.CreateDir("/etc/nested", 0755, 0, 0); err != nil {
		t.Fatalf("mkdir /etc/nested: %s", err)
	}

	meta, err := fsys.Metadata("/etc/nested")
	if err != nil {
		t.Fatalf("metadata: %s", err)
	}
	if !meta.IsDir() {
		t.Fatalf("expected directory")
	}

	entries, err := fsys.ReadDir("/etc")
	if err != nil {
		t.Fatalf("readdir: %s", err)
	}
	if len(entries) != 1 || entries[0].Name() != "nested" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestRemoveDirRejectsNonEmpty(t *testing.T) {
	fsys := mustMkfs(t, 4096)

	if err := fsys.CreateDir("/a", 0755, 0, 0); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	if _, err := fsys.CreateFile("/a/f", 0644, 0, 0); err != nil {
		t.Fatalf("create: %s", err)
	}
	if err := fsys.RemoveDir("/a"); !ext2.IsKind(err, ext2.KindDirectoryNotEmpty) {
		t.Fatalf("expected directory-not-empty, got %v", err)
	}
	if err := fsys.RemoveFile("/a/f"); err != nil {
		t.Fatalf("remove file: %s", err)
	}
	if err := fsys.RemoveDir("/a"); err != nil {
		t.Fatalf("remove dir: %s", err)
	}
}

func TestSymlinkResolution(t *testing.T) {
	fsys := mustMkfs(t, 4096)

	if _, err := fsys.CreateFile("/target.txt", 0644, 0, 0); err != nil {
		t.Fatalf("create target: %s", err)
	}
	if err := fsys.Symlink("/target.txt", "/link.txt"); err != nil {
		t.Fatalf("symlink: %s", err)
	}

	target, err := fsys.ReadLink("/link.txt")
	if err != nil {
		t.Fatalf("readlink: %s", err)
	}
	if target != "/target.txt" {
		t.Fatalf("unexpected target %q", target)
	}

	meta, err := fsys.Metadata("/link.txt")
	if err != nil {
		t.Fatalf("metadata follows symlink: %s", err)
	}
	if meta.IsDir() {
		t.Fatalf("target should not be a directory")
	}
}

func TestSymlinkCycleDetected(t *testing.T) {
	fsys := mustMkfs(t, 4096)

	if err := fsys.Symlink("/b", "/a"); err != nil {
		t.Fatalf("symlink a->b: %s", err)
	}
	if err := fsys.Symlink("/a", "/b"); err != nil {
		t.Fatalf("symlink b->a: %s", err)
	}

	if _, err := fsys.OpenFile("/a"); !ext2.IsKind(err, ext2.KindTooManyLinks) {
		t.Fatalf("expected too-many-links cycle error, got %v", err)
	}
}

func TestHardLink(t *testing.T) {
	fsys := mustMkfs(t, 4096)

	f, err := fsys.CreateFile("/orig.txt", 0644, 0, 0)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, err := f.WriteAt([]byte("shared"), 0); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := fsys.Link("/orig.txt", "/alias.txt"); err != nil {
		t.Fatalf("link: %s", err)
	}

	meta, err := fsys.Metadata("/alias.txt")
	if err != nil {
		t.Fatalf("metadata alias: %s", err)
	}
	if meta.Links != 2 {
		t.Fatalf("expected link count 2, got %d", meta.Links)
	}

	alias, err := fsys.OpenFile("/alias.txt")
	if err != nil {
		t.Fatalf("open alias: %s", err)
	}
	buf := make([]byte, 6)
	if _, err := alias.ReadAt(buf, 0); err != nil && err != io.EOF {
		t.Fatalf("read alias: %s", err)
	}
	if string(buf) != "shared" {
		t.Fatalf("alias content mismatch: %q", buf)
	}
}

func TestCreateFileAlreadyExists(t *testing.T) {
	fsys := mustMkfs(t, 4096)
	if _, err := fsys.CreateFile("/f", 0644, 0, 0); err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, err := fsys.CreateFile("/f", 0644, 0, 0); !ext2.IsKind(err, ext2.KindAlreadyExists) {
		t.Fatalf("expected already-exists, got %v", err)
	}
}

func TestFlush(t *testing.T) {
	fsys := mustMkfs(t, 4096)
	if _, err := fsys.CreateFile("/f", 0644, 0, 0); err != nil {
		t.Fatalf("create: %s", err)
	}
	if err := fsys.Flush(); err != nil {
		t.Fatalf("flush: %s", err)
	}
}

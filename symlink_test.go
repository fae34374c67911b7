package ext2

import "testing"

func newTestSymlinkInode(t *testing.T, fsys *FileSystem) *Inode {
	t.Helper()
	inoNum, err := fsys.alloc.AllocInode(0, false)
	if err != nil {
		t.Fatalf("alloc inode: %s", err)
	}
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{Mode: sIFLNK | 0777, LinksCount: 1}}
	if err := ino.flush(); err != nil {
		t.Fatalf("flush: %s", err)
	}
	return ino
}

func TestSymlinkInlineRoundTrip(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	ino := newTestSymlinkInode(t, fsys)

	target := "/short/target"
	if err := ino.writeSymlink(target); err != nil {
		t.Fatalf("writeSymlink: %s", err)
	}
	if !ino.isInlineSymlink() {
		t.Fatalf("expected inline layout for short target")
	}
	got, err := ino.ReadSymlink()
	if err != nil {
		t.Fatalf("ReadSymlink: %s", err)
	}
	if got != target {
		t.Fatalf("got %q want %q", got, target)
	}
}

func TestSymlinkBlockBackedForLongTarget(t *testing.T) {
	dev := newTestDevice(4096)
	fsys, err := MkFS(dev, 4096)
	if err != nil {
		t.Fatalf("mkfs: %s", err)
	}
	ino := newTestSymlinkInode(t, fsys)

	target := ""
	for len(target) <= maxInlineSymlink {
		target += "abcdefgh/"
	}
	if err := ino.writeSymlink(target); err != nil {
		t.Fatalf("writeSymlink: %s", err)
	}
	if ino.isInlineSymlink() {
		t.Fatalf("expected block-backed layout for long target")
	}
	got, err := ino.ReadSymlink()
	if err != nil {
		t.Fatalf("ReadSymlink: %s", err)
	}
	if got != target {
		t.Fatalf("got %q want %q", got, target)
	}
}

func TestReadSymlinkRejectsNonSymlink(t *testing.T) {
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
	if _, err := ino.ReadSymlink(); !IsKind(err, KindNotASymlink) {
		t.Fatalf("expected KindNotASymlink, got %v", err)
	}
}

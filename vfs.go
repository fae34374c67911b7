package ext2

import (
	"io/fs"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// rootInodeNum is fixed by the on-disk format: inode 2 is always the
// filesystem root.
const rootInodeNum = 2

// FileSystem is the VFS façade over one mounted image, the single entry
// point for every operation. Every exported method except the Superblock
// and Groups accessors takes fsys.mu, so the lock order documented on
// Allocator (VFS → Allocator → Group → Cache) starts here.
type FileSystem struct {
	mu sync.Mutex

	dev    BlockDevice
	cache  *Cache
	sb     *Superblock
	groups []*Group
	alloc  *Allocator
	root   *Inode

	log            *logrus.Entry
	cacheSize      int
	reservedPolicy ReservedBlockPolicy
}

// Open mounts the ext2 image exposed by dev.
func Open(dev BlockDevice, opts ...Option) (*FileSystem, error) {
	fsys := &FileSystem{
		dev:            dev,
		log:            nullLogger,
		cacheSize:      cacheDefaultSize,
		reservedPolicy: denyReserved,
	}
	for _, opt := range opts {
		if err := opt(fsys); err != nil {
			return nil, err
		}
	}

	cache, err := NewCache(dev, fsys.cacheSize, fsys.log)
	if err != nil {
		return nil, err
	}

	var sbBuf [superblockSize]byte
	err = cache.View(0, superblockOffset, func(data []byte) error {
		copy(sbBuf[:], data[:superblockSize])
		return nil
	})
	if err != nil {
		return nil, err
	}
	sb, err := readSuperblock(sbBuf[:])
	if err != nil {
		return nil, err
	}
	if err := sb.Validate(); err != nil {
		return nil, err
	}

	groups, err := loadGroupDescTable(cache, sb)
	if err != nil {
		return nil, err
	}

	fsys.cache = cache
	fsys.sb = sb
	fsys.groups = groups
	fsys.alloc = newAllocator(sb, groups, cache, fsys.log, fsys.reservedPolicy)

	root, err := loadInode(fsys, rootInodeNum)
	if err != nil {
		return nil, err
	}
	fsys.root = root

	fsys.log.WithFields(logrus.Fields{
		"uuid":   sb.UUID(),
		"blocks": sb.BlocksCount,
		"groups": len(groups),
	}).Info("mounted ext2 image")

	return fsys, nil
}

// Flush writes back every dirty cached block.
func (fsys *FileSystem) Flush() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.cache.Flush()
}

// Superblock exposes the mounted superblock for read-only inspection
// (used by cmd/e2fsck).
func (fsys *FileSystem) Superblock() *Superblock { return fsys.sb }

// Groups exposes the block-group table for read-only inspection.
func (fsys *FileSystem) Groups() []*Group { return fsys.groups }

// ReadBitmap returns a copy of grp's block or inode bitmap, for use by
// diagnostic tools (cmd/e2fsck) that must not take the allocator's lock.
func (fsys *FileSystem) ReadBitmap(grp *Group, inodes bool) ([]byte, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	block := grp.BlockBitmapBlock()
	if inodes {
		block = grp.InodeBitmapBlock()
	}
	buf := make([]byte, BlockSize)
	err := fsys.cache.View(block, 0, func(data []byte) error {
		copy(buf, data[:BlockSize])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (fsys *FileSystem) lookup(path string, followFinal bool) (*Inode, error) {
	return fsys.resolvePath(fsys.root, ParsePath(path), followFinal)
}

// Exists reports whether path resolves to an inode.
func (fsys *FileSystem) Exists(path string) bool {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	_, err := fsys.lookup(path, true)
	return err == nil
}

// Metadata returns path's attribute surface.
func (fsys *FileSystem) Metadata(path string) (Metadata, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ino, err := fsys.lookup(path, true)
	if err != nil {
		return Metadata{}, withPath(err, path)
	}
	return ino.Metadata(), nil
}

// ReadDir lists path's directory entries, excluding "." and "..".
func (fsys *FileSystem) ReadDir(path string) ([]*DirEntry, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ino, err := fsys.lookup(path, true)
	if err != nil {
		return nil, withPath(err, path)
	}
	if !ino.IsDir() {
		return nil, withPath(ErrNotADirectory, path)
	}
	all, err := (&Dir{ino: ino}).List()
	if err != nil {
		return nil, withPath(err, path)
	}
	out := all[:0]
	for _, e := range all {
		if e.name == "." || e.name == ".." {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// OpenFile opens path for reading and writing.
func (fsys *FileSystem) OpenFile(path string) (*File, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ino, err := fsys.lookup(path, true)
	if err != nil {
		return nil, withPath(err, path)
	}
	if ino.IsDir() {
		return nil, withPath(ErrIsADirectory, path)
	}
	return &File{fsys: fsys, ino: ino, name: path}, nil
}

func newInodeMode(typ FileType, perm fs.FileMode) uint16 {
	m := modeToUnix(perm &^ fs.ModeType)
	m &^= sIFMT
	switch typ {
	case TypeDirectory:
		m |= sIFDIR
	case TypeSymlink:
		m |= sIFLNK
	default:
		m |= sIFREG
	}
	return m
}

// CreateFile creates a new regular file at path with the given permission
// bits and ownership, failing with ErrAlreadyExists if it already exists.
func (fsys *FileSystem) CreateFile(path string, perm fs.FileMode, uid, gid uint32) (*File, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, name, err := fsys.resolveParent(fsys.root, ParsePath(path))
	if err != nil {
		return nil, withPath(err, path)
	}
	if len(name) > 255 {
		return nil, withPath(ErrTooLongFileName, path)
	}
	pdir := &Dir{ino: parent}
	if _, _, found, _ := pdir.Lookup(name); found {
		return nil, withPath(ErrAlreadyExists, path)
	}

	groupHint := parent.num / fsys.sb.InodesPerGroup
	inoNum, err := fsys.alloc.AllocInode(groupHint, false)
	if err != nil {
		return nil, withPath(err, path)
	}

	now := uint32(time.Now().Unix())
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{
		Mode:       newInodeMode(TypeRegular, perm),
		Uid:        uint16(uid),
		Gid:        uint16(gid),
		LinksCount: 1,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
	}}
	if err := ino.flush(); err != nil {
		return nil, withPath(err, path)
	}
	if err := pdir.Insert(name, inoNum, TypeRegular); err != nil {
		return nil, withPath(err, path)
	}

	return &File{fsys: fsys, ino: ino, name: path}, nil
}

// RemoveFile unlinks a non-directory at path, freeing its blocks and
// inode once its link count reaches zero.
func (fsys *FileSystem) RemoveFile(path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, name, err := fsys.resolveParent(fsys.root, ParsePath(path))
	if err != nil {
		return withPath(err, path)
	}
	pdir := &Dir{ino: parent}
	inoNum, typ, found, err := pdir.Lookup(name)
	if err != nil {
		return withPath(err, path)
	}
	if !found {
		return withPath(ErrNotFound, path)
	}
	if typ.IsDir() {
		return withPath(ErrIsADirectory, path)
	}
	ino, err := loadInode(fsys, inoNum)
	if err != nil {
		return withPath(err, path)
	}
	if err := pdir.Remove(name); err != nil {
		return withPath(err, path)
	}
	ino.mu.Lock()
	ino.disk.LinksCount--
	remaining := ino.disk.LinksCount
	err = ino.flush()
	ino.mu.Unlock()
	if err != nil {
		return withPath(err, path)
	}
	if remaining == 0 {
		if err := ino.freeAllBlocks(); err != nil {
			return withPath(err, path)
		}
		if err := fsys.alloc.FreeInode(inoNum, false); err != nil {
			return withPath(err, path)
		}
	}
	return nil
}

// CreateDir creates a new, empty directory at path containing "." and
// "..".
func (fsys *FileSystem) CreateDir(path string, perm fs.FileMode, uid, gid uint32) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, name, err := fsys.resolveParent(fsys.root, ParsePath(path))
	if err != nil {
		return withPath(err, path)
	}
	if len(name) > 255 {
		return withPath(ErrTooLongFileName, path)
	}
	pdir := &Dir{ino: parent}
	if _, _, found, _ := pdir.Lookup(name); found {
		return withPath(ErrAlreadyExists, path)
	}

	parent.mu.Lock()
	atLinkLimit := parent.disk.LinksCount == 65535
	parent.mu.Unlock()
	if atLinkLimit {
		return withPath(ErrTooManyLinks, path)
	}

	groupHint := parent.num / fsys.sb.InodesPerGroup
	inoNum, err := fsys.alloc.AllocInode(groupHint, true)
	if err != nil {
		return withPath(err, path)
	}

	now := uint32(time.Now().Unix())
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{
		Mode:       newInodeMode(TypeDirectory, perm),
		Uid:        uint16(uid),
		Gid:        uint16(gid),
		LinksCount: 2, // "." plus the parent's new entry
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
	}}
	if err := ino.flush(); err != nil {
		return withPath(err, path)
	}

	dot := &Dir{ino: ino}
	if err := dot.Insert(".", inoNum, TypeDirectory); err != nil {
		return withPath(err, path)
	}
	if err := dot.Insert("..", parent.num, TypeDirectory); err != nil {
		return withPath(err, path)
	}

	if err := pdir.Insert(name, inoNum, TypeDirectory); err != nil {
		return withPath(err, path)
	}

	parent.mu.Lock()
	parent.disk.LinksCount++
	err = parent.flush()
	parent.mu.Unlock()
	return withPath(err, path)
}

// RemoveDir removes an empty directory at path.
func (fsys *FileSystem) RemoveDir(path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if path == "/" || path == "" {
		return withPath(ErrPermissionDenied, path)
	}

	parent, name, err := fsys.resolveParent(fsys.root, ParsePath(path))
	if err != nil {
		return withPath(err, path)
	}
	pdir := &Dir{ino: parent}
	inoNum, typ, found, err := pdir.Lookup(name)
	if err != nil {
		return withPath(err, path)
	}
	if !found {
		return withPath(ErrNotFound, path)
	}
	if !typ.IsDir() {
		return withPath(ErrNotADirectory, path)
	}
	ino, err := loadInode(fsys, inoNum)
	if err != nil {
		return withPath(err, path)
	}
	empty, err := (&Dir{ino: ino}).IsEmpty()
	if err != nil {
		return withPath(err, path)
	}
	if !empty {
		return withPath(ErrDirectoryNotEmpty, path)
	}

	if err := pdir.Remove(name); err != nil {
		return withPath(err, path)
	}
	if err := ino.freeAllBlocks(); err != nil {
		return withPath(err, path)
	}
	if err := fsys.alloc.FreeInode(inoNum, true); err != nil {
		return withPath(err, path)
	}

	parent.mu.Lock()
	if parent.disk.LinksCount > 0 {
		parent.disk.LinksCount--
	}
	err = parent.flush()
	parent.mu.Unlock()
	return withPath(err, path)
}

// Link creates a new hard link newPath pointing at the inode oldPath
// resolves to. Both paths must live in the same mounted filesystem; the
// usual cross-device link restriction is moot here since there is only
// ever one device.
func (fsys *FileSystem) Link(oldPath, newPath string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	target, err := fsys.lookup(oldPath, false)
	if err != nil {
		return withPath(err, oldPath)
	}
	if target.IsDir() {
		return withPath(ErrIsADirectory, oldPath)
	}

	parent, name, err := fsys.resolveParent(fsys.root, ParsePath(newPath))
	if err != nil {
		return withPath(err, newPath)
	}
	pdir := &Dir{ino: parent}
	if _, _, found, _ := pdir.Lookup(name); found {
		return withPath(ErrAlreadyExists, newPath)
	}

	target.mu.Lock()
	if target.disk.LinksCount == 65535 {
		target.mu.Unlock()
		return withPath(ErrTooManyLinks, newPath)
	}
	target.mu.Unlock()

	if err := pdir.Insert(name, target.num, target.Type()); err != nil {
		return withPath(err, newPath)
	}

	target.mu.Lock()
	target.disk.LinksCount++
	err = target.flush()
	target.mu.Unlock()
	return withPath(err, newPath)
}

// Symlink creates a new symlink at linkPath pointing at target. target is
// stored verbatim and is not required to resolve.
func (fsys *FileSystem) Symlink(target, linkPath string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if len(target) > 4096 {
		return withPath(ErrTooLongFileName, linkPath)
	}

	parent, name, err := fsys.resolveParent(fsys.root, ParsePath(linkPath))
	if err != nil {
		return withPath(err, linkPath)
	}
	pdir := &Dir{ino: parent}
	if _, _, found, _ := pdir.Lookup(name); found {
		return withPath(ErrAlreadyExists, linkPath)
	}

	groupHint := parent.num / fsys.sb.InodesPerGroup
	inoNum, err := fsys.alloc.AllocInode(groupHint, false)
	if err != nil {
		return withPath(err, linkPath)
	}
	now := uint32(time.Now().Unix())
	ino := &Inode{fs: fsys, num: inoNum, disk: diskInode{
		Mode:       newInodeMode(TypeSymlink, 0777),
		LinksCount: 1,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
	}}
	if err := ino.flush(); err != nil {
		return withPath(err, linkPath)
	}
	if err := ino.writeSymlink(target); err != nil {
		return withPath(err, linkPath)
	}
	if err := pdir.Insert(name, inoNum, TypeSymlink); err != nil {
		return withPath(err, linkPath)
	}
	return nil
}

// ReadLink returns the target of the symlink at path.
func (fsys *FileSystem) ReadLink(path string) (string, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ino, err := fsys.lookup(path, false)
	if err != nil {
		return "", withPath(err, path)
	}
	target, err := ino.ReadSymlink()
	if err != nil {
		return "", withPath(err, path)
	}
	return target, nil
}

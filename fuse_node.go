package ext2

import (
	"context"
	"io/fs"
	"syscall"

	fusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Node bridges a FileSystem path to go-fuse/v2's high-level node API,
// covering the read-write operation set a writable filesystem needs.
type Node struct {
	fusefs.Inode

	fsys *FileSystem
	path string
}

var (
	_ fusefs.NodeGetattrer  = (*Node)(nil)
	_ fusefs.NodeLookuper   = (*Node)(nil)
	_ fusefs.NodeReaddirer  = (*Node)(nil)
	_ fusefs.NodeOpener     = (*Node)(nil)
	_ fusefs.NodeReader     = (*Node)(nil)
	_ fusefs.NodeWriter     = (*Node)(nil)
	_ fusefs.NodeCreater    = (*Node)(nil)
	_ fusefs.NodeMkdirer    = (*Node)(nil)
	_ fusefs.NodeUnlinker   = (*Node)(nil)
	_ fusefs.NodeRmdirer    = (*Node)(nil)
	_ fusefs.NodeSymlinker  = (*Node)(nil)
	_ fusefs.NodeReadlinker = (*Node)(nil)
	_ fusefs.NodeLinker     = (*Node)(nil)
	_ fusefs.NodeSetattrer  = (*Node)(nil)
)

// Root returns the go-fuse root node for fsys, used by cmd/ext2mount.
func Root(fsys *FileSystem) *Node {
	return &Node{fsys: fsys, path: "/"}
}

func (n *Node) childPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func fillAttr(out *fuse.Attr, meta Metadata) {
	out.Mode = uint32(meta.Mode.Perm())
	switch {
	case meta.Type.IsDir():
		out.Mode |= syscall.S_IFDIR
	case meta.Type.IsSymlink():
		out.Mode |= syscall.S_IFLNK
	default:
		out.Mode |= syscall.S_IFREG
	}
	out.Size = meta.Size
	out.Nlink = meta.Links
	out.Uid = meta.Uid
	out.Gid = meta.Gid
	out.Ino = uint64(meta.InodeNo)
	out.SetTimes(&meta.Atime, &meta.Mtime, &meta.Ctime)
}

func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case IsKind(err, KindNotFound):
		return syscall.ENOENT
	case IsKind(err, KindAlreadyExists):
		return syscall.EEXIST
	case IsKind(err, KindNotADirectory):
		return syscall.ENOTDIR
	case IsKind(err, KindIsADirectory):
		return syscall.EISDIR
	case IsKind(err, KindDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case IsKind(err, KindTooLongFileName):
		return syscall.ENAMETOOLONG
	case IsKind(err, KindTooManyLinks):
		return syscall.EMLINK
	case IsKind(err, KindNoFreeBlocks), IsKind(err, KindNoFreeInodes):
		return syscall.ENOSPC
	case IsKind(err, KindPermissionDenied):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

func (n *Node) Getattr(ctx context.Context, f fusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	meta, err := n.fsys.Metadata(n.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttr(&out.Attr, meta)
	return 0
}

func (n *Node) Setattr(ctx context.Context, f fusefs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		file, err := n.fsys.OpenFile(n.path)
		if err != nil {
			return errnoFor(err)
		}
		if err := file.Truncate(size); err != nil {
			return errnoFor(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fusefs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	meta, err := n.fsys.Metadata(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, meta)
	child := &Node{fsys: n.fsys, path: childPath}
	mode := uint32(syscall.S_IFREG)
	if meta.Type.IsDir() {
		mode = syscall.S_IFDIR
	} else if meta.Type.IsSymlink() {
		mode = syscall.S_IFLNK
	}
	return n.NewInode(ctx, child, fusefs.StableAttr{Mode: mode, Ino: uint64(meta.InodeNo)}), 0
}

func (n *Node) Readdir(ctx context.Context) (fusefs.DirStream, syscall.Errno) {
	entries, err := n.fsys.ReadDir(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir() {
			mode = syscall.S_IFDIR
		} else if e.Type()&fs.ModeSymlink != 0 {
			mode = syscall.S_IFLNK
		}
		list = append(list, fuse.DirEntry{Name: e.Name(), Ino: uint64(e.InodeNum()), Mode: mode})
	}
	return fusefs.NewListDirStream(list), 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fusefs.FileHandle, uint32, syscall.Errno) {
	_, err := n.fsys.OpenFile(n.path)
	if err != nil {
		return nil, 0, errnoFor(err)
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *Node) Read(ctx context.Context, f fusefs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	file, err := n.fsys.OpenFile(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	nr, err := file.ReadAt(dest, off)
	if err != nil && nr == 0 {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:nr]), 0
}

func (n *Node) Write(ctx context.Context, f fusefs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	file, err := n.fsys.OpenFile(n.path)
	if err != nil {
		return 0, errnoFor(err)
	}
	nw, err := file.WriteAt(data, off)
	if err != nil {
		return uint32(nw), errnoFor(err)
	}
	return uint32(nw), 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fusefs.Inode, fusefs.FileHandle, uint32, syscall.Errno) {
	childPath := n.childPath(name)
	caller, _ := fusefs.FromContext(ctx)
	var uid, gid uint32
	if caller != nil {
		uid, gid = caller.Uid, caller.Gid
	}
	file, err := n.fsys.CreateFile(childPath, toFileMode(mode), uid, gid)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	meta := file.ino.Metadata()
	fillAttr(&out.Attr, meta)
	child := &Node{fsys: n.fsys, path: childPath}
	inode := n.NewInode(ctx, child, fusefs.StableAttr{Mode: syscall.S_IFREG, Ino: uint64(meta.InodeNo)})
	return inode, nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fusefs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	caller, _ := fusefs.FromContext(ctx)
	var uid, gid uint32
	if caller != nil {
		uid, gid = caller.Uid, caller.Gid
	}
	if err := n.fsys.CreateDir(childPath, toFileMode(mode), uid, gid); err != nil {
		return nil, errnoFor(err)
	}
	meta, err := n.fsys.Metadata(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, meta)
	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fusefs.StableAttr{Mode: syscall.S_IFDIR, Ino: uint64(meta.InodeNo)}), 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.fsys.RemoveFile(n.childPath(name)))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.fsys.RemoveDir(n.childPath(name)))
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fusefs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	if err := n.fsys.Symlink(target, childPath); err != nil {
		return nil, errnoFor(err)
	}
	meta, err := n.fsys.Metadata(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, meta)
	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fusefs.StableAttr{Mode: syscall.S_IFLNK, Ino: uint64(meta.InodeNo)}), 0
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fsys.ReadLink(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	return []byte(target), 0
}

func (n *Node) Link(ctx context.Context, target fusefs.InodeEmbedder, name string, out *fuse.EntryOut) (*fusefs.Inode, syscall.Errno) {
	other, ok := target.(*Node)
	if !ok {
		return nil, syscall.EXDEV
	}
	childPath := n.childPath(name)
	if err := n.fsys.Link(other.path, childPath); err != nil {
		return nil, errnoFor(err)
	}
	meta, err := n.fsys.Metadata(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, meta)
	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fusefs.StableAttr{Ino: uint64(meta.InodeNo)}), 0
}

func toFileMode(m uint32) fs.FileMode {
	return fs.FileMode(m & 0777)
}

package ext2

// maxSymlinkHops bounds symlink chasing: a chain longer than this is
// treated as a cycle and reported as ErrTooManyLinks rather than walked
// forever.
const maxSymlinkHops = 40

// resolvePath walks path starting at base, following symlinks as it goes
// (including a leading absolute path resetting to the filesystem root).
// followFinalSymlink controls whether the last component, if itself a
// symlink, is also followed (true for most operations; false for Link and
// ReadLink, which act on the symlink itself).
func (fsys *FileSystem) resolvePath(base *Inode, path Path, followFinalSymlink bool) (*Inode, error) {
	hops := 0
	return fsys.resolvePathHops(base, path, followFinalSymlink, &hops)
}

// resolvePathHops does the actual walk, threading hops through every
// recursive symlink-target resolution so a cycle (even one bouncing
// between two or more symlinks) is caught by maxSymlinkHops instead of
// recursing forever.
func (fsys *FileSystem) resolvePathHops(base *Inode, path Path, followFinalSymlink bool, hops *int) (*Inode, error) {
	cur := base
	if path.IsAbsolute() {
		cur = fsys.root
	}
	comps := path.Components()

	for idx, name := range comps {
		if !cur.IsDir() {
			return nil, ErrNotADirectory
		}
		dir := &Dir{ino: cur}
		inodeNum, typ, found, err := dir.Lookup(name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		next, err := loadInode(fsys, inodeNum)
		if err != nil {
			return nil, err
		}

		isLast := idx == len(comps)-1
		if typ.IsSymlink() && (!isLast || followFinalSymlink) {
			*hops++
			if *hops > maxSymlinkHops {
				return nil, ErrTooManyLinks
			}
			target, err := next.ReadSymlink()
			if err != nil {
				return nil, err
			}
			targetPath := ParsePath(target)
			resolveFrom := cur
			if targetPath.IsAbsolute() {
				resolveFrom = fsys.root
			}
			resolved, err := fsys.resolvePathHops(resolveFrom, targetPath, true, hops)
			if err != nil {
				return nil, err
			}
			next = resolved
		}
		cur = next
	}
	return cur, nil
}

// resolveParent walks every component of path but the last, returning the
// parent directory inode and the final component name.
func (fsys *FileSystem) resolveParent(base *Inode, path Path) (*Inode, string, error) {
	name, ok := path.Last()
	if !ok {
		return nil, "", ErrInvalidPath
	}
	parentPath := EmptyPath(path.IsAbsolute())
	for _, c := range path.Components()[:path.Len()-1] {
		parentPath = parentPath.WithComponent(c)
	}
	parent, err := fsys.resolvePath(base, parentPath, true)
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", ErrNotADirectory
	}
	return parent, name, nil
}

package ext2

// maxInlineSymlink is the largest target ext2 stores inline in the
// inode's block-pointer array (60 bytes: 15 pointers × 4 bytes), avoiding
// a data block allocation for the common case. This is ext2's historical
// "fast symlink" layout.
const maxInlineSymlink = numBlockPointers * 4

// ReadSymlink returns the target path this symlink inode points to.
func (i *Inode) ReadSymlink() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !fileTypeFromMode(i.disk.Mode).IsSymlink() {
		return "", ErrNotASymlink
	}
	size := i.disk.size()
	if i.isInlineSymlink() {
		buf := make([]byte, numBlockPointers*4)
		for idx := 0; idx < numBlockPointers; idx++ {
			putLeUint32(buf[idx*4:idx*4+4], i.disk.Block[idx])
		}
		if size > uint64(len(buf)) {
			return "", newErr("readlink", "", KindNotSupported, "corrupt inline symlink size")
		}
		return string(buf[:size]), nil
	}

	buf := make([]byte, size)
	_, err := i.readAtLocked(buf, 0)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeSymlink stores target in the inode, choosing the inline layout
// when it fits.
func (i *Inode) writeSymlink(target string) error {
	if len(target) <= maxInlineSymlink {
		i.mu.Lock()
		defer i.mu.Unlock()
		buf := make([]byte, numBlockPointers*4)
		copy(buf, target)
		for idx := 0; idx < numBlockPointers; idx++ {
			i.disk.Block[idx] = leUint32(buf[idx*4 : idx*4+4])
		}
		i.disk.setSize(uint64(len(target)))
		return i.flush()
	}

	_, err := i.WriteAt([]byte(target), 0)
	return err
}

func (i *Inode) isInlineSymlink() bool {
	// A fast symlink never consumes a 512-byte sector, matching the
	// e2fsprogs convention used to tell fast and slow symlinks apart.
	return i.disk.Blocks512 == 0
}

// readAtLocked reads like ReadAt for callers that already hold i.mu. At or
// past the end of the file it returns 0 and a nil error rather than
// io.EOF, and it leaves p untouched over holes instead of zeroing it.
func (i *Inode) readAtLocked(p []byte, off int64) (int, error) {
	size := i.disk.size()
	if uint64(off) >= size {
		return 0, nil
	}
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
		if phys != 0 {
			if err := i.fs.cache.View(phys, within, func(data []byte) error {
				copy(p[:n], data[:n])
				return nil
			}); err != nil {
				return total, err
			}
		}
		p = p[n:]
		off += int64(n)
		total += n
	}
	return total, nil
}

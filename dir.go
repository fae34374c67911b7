package ext2

import (
	"encoding/binary"
	"io/fs"
	"time"
)

// dirEntryHeaderSize is the fixed portion of an ext2 directory record:
// inode (4), rec_len (2), name_len (1), file_type (1).
const dirEntryHeaderSize = 8

// dirRecordAlign is the alignment every rec_len is padded to.
const dirRecordAlign = 4

// dirRecord is one decoded directory record, including deleted ("slack")
// records where Inode == 0: those still occupy rec_len bytes and are
// skipped by iteration but reused by Insert.
type dirRecord struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType FileType
	Name     string

	blockOffset int // byte offset of this record within its block, for in-place rewrites
}

func decodeDirRecord(data []byte, offset int) dirRecord {
	inode := binary.LittleEndian.Uint32(data[offset : offset+4])
	recLen := binary.LittleEndian.Uint16(data[offset+4 : offset+6])
	nameLen := data[offset+6]
	ft := FileType(data[offset+7])
	name := ""
	if inode != 0 {
		name = string(data[offset+dirEntryHeaderSize : offset+dirEntryHeaderSize+int(nameLen)])
	}
	return dirRecord{Inode: inode, RecLen: recLen, NameLen: nameLen, FileType: ft, Name: name, blockOffset: offset}
}

func encodeDirRecord(r dirRecord, data []byte) {
	off := r.blockOffset
	binary.LittleEndian.PutUint32(data[off:off+4], r.Inode)
	binary.LittleEndian.PutUint16(data[off+4:off+6], r.RecLen)
	data[off+6] = r.NameLen
	data[off+7] = byte(r.FileType)
	if r.Inode != 0 {
		copy(data[off+dirEntryHeaderSize:off+dirEntryHeaderSize+int(r.NameLen)], r.Name)
	}
}

// dirRecordSpace returns the rec_len a fresh record for name needs,
// 4-byte aligned.
func dirRecordSpace(name string) uint16 {
	need := dirEntryHeaderSize + len(name)
	if rem := need % dirRecordAlign; rem != 0 {
		need += dirRecordAlign - rem
	}
	return uint16(need)
}

// Dir is a directory inode viewed through the directory-record codec.
type Dir struct {
	ino *Inode
}

// DirEntry adapts a decoded record to fs.DirEntry for ReadDir consumers.
type DirEntry struct {
	name string
	typ  FileType
	ino  uint32
	fs   *FileSystem
}

func (e *DirEntry) Name() string { return e.name }
func (e *DirEntry) IsDir() bool  { return e.typ.IsDir() }
func (e *DirEntry) Type() fs.FileMode {
	return e.typ.Mode()
}
func (e *DirEntry) InodeNum() uint32 { return e.ino }
func (e *DirEntry) Info() (fs.FileInfo, error) {
	ino, err := loadInode(e.fs, e.ino)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: e.name, meta: ino.Metadata()}, nil
}

// fileInfo adapts Metadata to fs.FileInfo.
type fileInfo struct {
	name string
	meta Metadata
}

func (fi *fileInfo) Name() string              { return fi.name }
func (fi *fileInfo) Size() int64               { return int64(fi.meta.Size) }
func (fi *fileInfo) Mode() fs.FileMode         { return fi.meta.Mode }
func (fi *fileInfo) ModTime() time.Time        { return fi.meta.Mtime }
func (fi *fileInfo) IsDir() bool               { return fi.meta.IsDir() }
func (fi *fileInfo) Sys() any                  { return fi.meta }

// entries walks every record in dir's data blocks, invoking fn for each
// occupied record; slack records (Inode == 0) are stepped over without a
// call. fn returning a non-nil error stops the walk and is returned
// verbatim.
func (d *Dir) entries(fn func(rec dirRecord, block uint32) error) error {
	size := d.ino.Size()
	nblocks := (size + BlockSize - 1) / BlockSize
	for b := uint64(0); b < nblocks; b++ {
		phys, err := d.ino.resolveBlock(b, false)
		if err != nil {
			return err
		}
		if phys == 0 {
			continue
		}
		var stop error
		err = d.ino.fs.cache.View(phys, 0, func(data []byte) error {
			off := 0
			for off < BlockSize {
				rec := decodeDirRecord(data, off)
				if rec.RecLen == 0 {
					return newErr("readdir", "", KindNotSupported, "zero rec_len")
				}
				if rec.Inode != 0 {
					if err := fn(rec, phys); err != nil {
						stop = err
						return nil
					}
				}
				off += int(rec.RecLen)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if stop != nil {
			return stop
		}
	}
	return nil
}

var errStopWalk = newErr("readdir", "", KindNotSupported, "internal stop")

// Lookup finds name among dir's entries. A name stored twice in one
// directory is on-disk corruption and panics.
func (d *Dir) Lookup(name string) (inode uint32, typ FileType, found bool, err error) {
	walkErr := d.entries(func(rec dirRecord, block uint32) error {
		if rec.Name == name {
			if found {
				panic("ext2: duplicate directory entry " + name)
			}
			inode, typ, found = rec.Inode, rec.FileType, true
		}
		return nil
	})
	if walkErr != nil && walkErr != errStopWalk {
		return 0, 0, false, walkErr
	}
	return inode, typ, found, nil
}

// List returns every visible entry, for ReadDir.
func (d *Dir) List() ([]*DirEntry, error) {
	var out []*DirEntry
	err := d.entries(func(rec dirRecord, block uint32) error {
		out = append(out, &DirEntry{name: rec.Name, typ: rec.FileType, ino: rec.Inode, fs: d.ino.fs})
		return nil
	})
	return out, err
}

// Insert adds a new (name, inode, typ) record, splitting an existing
// record's trailing slack when room allows or appending a freshly
// allocated block otherwise.
func (d *Dir) Insert(name string, inode uint32, typ FileType) error {
	if len(name) > 255 {
		return ErrTooLongFileName
	}
	need := dirRecordSpace(name)

	size := d.ino.Size()
	nblocks := (size + BlockSize - 1) / BlockSize
	for b := uint64(0); b < nblocks; b++ {
		phys, err := d.ino.resolveBlock(b, false)
		if err != nil {
			return err
		}
		if phys == 0 {
			continue
		}
		ok, err := d.tryInsertInBlock(phys, name, inode, typ, need)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	// No room anywhere: append a new block as one free record spanning
	// it, then split into the inserted entry.
	phys, err := d.ino.resolveBlock(nblocks, true)
	if err != nil {
		return err
	}
	err = d.ino.fs.cache.Modify(phys, 0, func(data []byte) error {
		rec := dirRecord{Inode: 0, RecLen: BlockSize, NameLen: 0, FileType: TypeUnknown, blockOffset: 0}
		encodeDirRecord(rec, data)
		return nil
	})
	if err != nil {
		return err
	}
	if newSize := (nblocks + 1) * BlockSize; newSize > d.ino.disk.size() {
		d.ino.mu.Lock()
		d.ino.disk.setSize(newSize)
		err = d.ino.flush()
		d.ino.mu.Unlock()
		if err != nil {
			return err
		}
	}
	ok, err := d.tryInsertInBlock(phys, name, inode, typ, need)
	if err != nil {
		return err
	}
	if !ok {
		return newErr("mkdirent", name, KindNotSupported, "entry does not fit in an empty block")
	}
	return nil
}

// tryInsertInBlock scans one block's records for either a free (Inode==0)
// record big enough, or an occupied record whose rec_len exceeds its own
// minimum space by at least `need`, splitting off the tail for the new
// entry. Returns ok=false if nothing in this block has room.
func (d *Dir) tryInsertInBlock(phys uint32, name string, inode uint32, typ FileType, need uint16) (bool, error) {
	placed := false
	err := d.ino.fs.cache.Modify(phys, 0, func(data []byte) error {
		off := 0
		for off < BlockSize {
			rec := decodeDirRecord(data, off)
			if rec.RecLen == 0 {
				return newErr("mkdirent", name, KindNotSupported, "zero rec_len")
			}
			if rec.Inode == 0 {
				if rec.RecLen >= need {
					newRec := dirRecord{Inode: inode, RecLen: rec.RecLen, NameLen: uint8(len(name)), FileType: typ, Name: name, blockOffset: off}
					encodeDirRecord(newRec, data)
					placed = true
					return nil
				}
				off += int(rec.RecLen)
				continue
			}
			ownSpace := dirRecordSpace(rec.Name)
			if rec.RecLen-ownSpace >= need {
				tailOff := off + int(ownSpace)
				tailLen := rec.RecLen - ownSpace
				rec.RecLen = ownSpace
				encodeDirRecord(rec, data)
				newRec := dirRecord{Inode: inode, RecLen: tailLen, NameLen: uint8(len(name)), FileType: typ, Name: name, blockOffset: tailOff}
				encodeDirRecord(newRec, data)
				placed = true
				return nil
			}
			off += int(rec.RecLen)
		}
		return nil
	})
	return placed, err
}

// Remove deletes name. When a preceding record shares its block, the
// victim's rec_len is folded into that record's rec_len so the space
// becomes ordinary trailing slack tryInsertInBlock can split into later;
// a victim that is the first record in its block has no preceding
// record to absorb into, so it is instead zeroed in place and left as
// its own free record.
func (d *Dir) Remove(name string) error {
	removed := false
	size := d.ino.Size()
	nblocks := (size + BlockSize - 1) / BlockSize
	for b := uint64(0); b < nblocks && !removed; b++ {
		phys, err := d.ino.resolveBlock(b, false)
		if err != nil {
			return err
		}
		if phys == 0 {
			continue
		}
		err = d.ino.fs.cache.Modify(phys, 0, func(data []byte) error {
			off := 0
			prevOff := -1
			for off < BlockSize {
				rec := decodeDirRecord(data, off)
				if rec.RecLen == 0 {
					return newErr("rmdirent", name, KindNotSupported, "zero rec_len")
				}
				if rec.Inode != 0 && rec.Name == name {
					if prevOff >= 0 {
						// Merge the victim's slot into the immediately
						// preceding record's rec_len rather than leaving
						// it behind as its own orphaned slack record.
						prevRecLen := binary.LittleEndian.Uint16(data[prevOff+4 : prevOff+6])
						binary.LittleEndian.PutUint16(data[prevOff+4:prevOff+6], prevRecLen+rec.RecLen)
					} else {
						rec.Inode = 0
						rec.Name = ""
						rec.NameLen = 0
						rec.FileType = TypeUnknown
						encodeDirRecord(rec, data)
					}
					removed = true
					return nil
				}
				prevOff = off
				off += int(rec.RecLen)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

// IsEmpty reports whether dir contains only "." and "..".
func (d *Dir) IsEmpty() (bool, error) {
	count := 0
	err := d.entries(func(rec dirRecord, block uint32) error {
		if rec.Name != "." && rec.Name != ".." {
			count++
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

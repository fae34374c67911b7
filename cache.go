package ext2

import (
	"container/list"
	"sync"

	"github.com/sirupsen/logrus"
)

const cacheDefaultSize = 1024

// cacheEntry holds one BlockSize-byte block plus its dirty flag and LRU
// position.
type cacheEntry struct {
	id    uint32
	buf   []byte
	dirty bool
	elem  *list.Element
}

// Cache is the write-back block cache: a coarse mutex guarding a map from
// block id to buffer, where reads and writes go through typed views of
// the buffer and dirty blocks are written back to the device on eviction
// or Flush. Lock ordering throughout the package is VFS → allocator →
// group → cache, so cache methods must never call back into any of
// those layers.
type Cache struct {
	mu  sync.Mutex
	dev BlockDevice
	log *logrus.Entry

	entries map[uint32]*cacheEntry
	order   *list.List
	maxSize int

	sectorsPerBlock int
}

// NewCache constructs a cache over dev. dev's sector size must evenly
// divide BlockSize.
func NewCache(dev BlockDevice, maxSize int, log *logrus.Entry) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = cacheDefaultSize
	}
	ss := dev.SectorSize()
	if ss <= 0 || BlockSize%ss != 0 {
		return nil, newErr("open", "", KindNotSupported, "device sector size does not divide block size")
	}
	if log == nil {
		log = nullLogger
	}
	return &Cache{
		dev:             dev,
		log:             log,
		entries:         make(map[uint32]*cacheEntry),
		order:           list.New(),
		maxSize:         maxSize,
		sectorsPerBlock: BlockSize / ss,
	}, nil
}

func (c *Cache) touch(e *cacheEntry) {
	c.order.MoveToFront(e.elem)
}

// load reads a block from the device into a fresh cache entry. Caller must
// hold c.mu.
func (c *Cache) load(blockID uint32) (*cacheEntry, error) {
	buf := make([]byte, BlockSize)
	ss := c.dev.SectorSize()
	base := uint64(blockID) * uint64(c.sectorsPerBlock)
	for i := 0; i < c.sectorsPerBlock; i++ {
		if err := c.dev.ReadSector(base+uint64(i), buf[i*ss:(i+1)*ss]); err != nil {
			return nil, err
		}
	}
	e := &cacheEntry{id: blockID, buf: buf}
	e.elem = c.order.PushFront(e)
	c.entries[blockID] = e
	c.evictIfNeeded()
	return e, nil
}

// evictIfNeeded drops the least-recently-used entry, clean or dirty, until
// the cache is within maxSize. A dirty LRU victim is written back first
// rather than skipped: this cache is write-back, not write-through.
func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.maxSize {
		back := c.order.Back()
		if back == nil {
			return
		}
		victim := back.Value.(*cacheEntry)
		if victim.dirty {
			if err := c.writeBack(victim); err != nil {
				c.log.WithError(err).WithField("block", victim.id).Error("cache eviction write-back failed")
				return
			}
		}
		c.order.Remove(back)
		delete(c.entries, victim.id)
	}
}

func (c *Cache) writeBack(e *cacheEntry) error {
	ss := c.dev.SectorSize()
	base := uint64(e.id) * uint64(c.sectorsPerBlock)
	for i := 0; i < c.sectorsPerBlock; i++ {
		if err := c.dev.WriteSector(base+uint64(i), e.buf[i*ss:(i+1)*ss]); err != nil {
			return err
		}
	}
	e.dirty = false
	return nil
}

func (c *Cache) get(blockID uint32) (*cacheEntry, error) {
	if e, ok := c.entries[blockID]; ok {
		c.touch(e)
		return e, nil
	}
	return c.load(blockID)
}

// View applies fn to a read-only slice of BlockSize bytes starting at
// offset within block blockID. fn must not retain the slice past return.
func (c *Cache) View(blockID uint32, offset int, fn func(data []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.get(blockID)
	if err != nil {
		return err
	}
	if offset < 0 || offset > BlockSize {
		return newErr("cache_view", "", KindNotSupported, "offset out of range")
	}
	return fn(e.buf[offset:])
}

// Modify applies fn to a mutable slice of BlockSize bytes starting at
// offset within block blockID, marking the block dirty unless fn returns
// an error.
func (c *Cache) Modify(blockID uint32, offset int, fn func(data []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.get(blockID)
	if err != nil {
		return err
	}
	if offset < 0 || offset > BlockSize {
		return newErr("cache_modify", "", KindNotSupported, "offset out of range")
	}
	if err := fn(e.buf[offset:]); err != nil {
		return err
	}
	e.dirty = true
	return nil
}

// Zero clears an entire block to zero bytes and marks it dirty, used when
// allocating a fresh data or metadata block.
func (c *Cache) Zero(blockID uint32) error {
	return c.Modify(blockID, 0, func(data []byte) error {
		for i := range data {
			if i >= BlockSize {
				break
			}
			data[i] = 0
		}
		return nil
	})
}

// Flush writes back every dirty block.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.dirty {
			if err := c.writeBack(e); err != nil {
				return err
			}
		}
	}
	return nil
}

package ext2

import "github.com/sirupsen/logrus"

// Option configures a FileSystem at Open/Create time, following the
// functional-options pattern.
type Option func(*FileSystem) error

// WithLogger attaches a structured logger, shared as-is by the filesystem,
// its cache and its allocator. Without this option a discarding logger is
// used.
func WithLogger(entry *logrus.Entry) Option {
	return func(fs *FileSystem) error {
		if entry != nil {
			fs.log = entry
		}
		return nil
	}
}

// WithCacheSize bounds the number of 4 KiB blocks the write-back cache
// keeps resident before evicting the least recently used entry (written
// back first if dirty).
// The default (cacheDefaultSize) favors correctness over memory use for
// small filesystems; large images should raise this.
func WithCacheSize(blocks int) Option {
	return func(fs *FileSystem) error {
		if blocks <= 0 {
			return newErr("open", "", KindNotSupported, "cache size must be positive")
		}
		fs.cacheSize = blocks
		return nil
	}
}

// ReservedBlockPolicy decides whether the given uid may allocate from the
// superblock's reserved-block reserve (r_blocks_count). The default
// policy never allows it; only a policy installed via
// WithReservedBlockPolicy can authorize dipping into the reserve.
type ReservedBlockPolicy func(uid uint32) bool

// WithReservedBlockPolicy installs the callback consulted by the allocator
// once the free-block count has dropped to or below r_blocks_count.
func WithReservedBlockPolicy(policy ReservedBlockPolicy) Option {
	return func(fs *FileSystem) error {
		if policy != nil {
			fs.reservedPolicy = policy
		}
		return nil
	}
}

func denyReserved(uint32) bool { return false }

package ext2

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorKind classifies a filesystem error independently of the path or
// context it occurred in. Callers should compare with errors.Is against the
// package-level sentinels below, never against ErrorKind values directly.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindPermissionDenied
	KindAlreadyExists
	KindNotADirectory
	KindNotAFile
	KindNotASymlink
	KindDirectoryNotEmpty
	KindIsADirectory
	KindTooLargeFile
	KindTooLongFileName
	KindTooManyLinks
	KindInvalidFilename
	KindNoFreeBlocks
	KindNoFreeInodes
	KindInvalidPath
	KindNotSupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindAlreadyExists:
		return "already exists"
	case KindNotADirectory:
		return "not a directory"
	case KindNotAFile:
		return "not a file"
	case KindNotASymlink:
		return "not a symlink"
	case KindDirectoryNotEmpty:
		return "directory not empty"
	case KindIsADirectory:
		return "is a directory"
	case KindTooLargeFile:
		return "file too large"
	case KindTooLongFileName:
		return "file name too long"
	case KindTooManyLinks:
		return "too many links"
	case KindInvalidFilename:
		return "invalid file name"
	case KindNoFreeBlocks:
		return "no free blocks"
	case KindNoFreeInodes:
		return "no free inodes"
	case KindInvalidPath:
		return "invalid path"
	case KindNotSupported:
		return "not supported"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Package-specific sentinel errors, usable with errors.Is(). These are the
// leaves; the VFS layer wraps them with path and context via newErr below.
var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNotADirectory     = errors.New("not a directory")
	ErrNotAFile          = errors.New("not a file")
	ErrNotASymlink       = errors.New("not a symlink")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrIsADirectory      = errors.New("is a directory")
	ErrTooLargeFile      = errors.New("file too large")
	ErrTooLongFileName   = errors.New("file name too long")
	ErrTooManyLinks      = errors.New("too many links")
	ErrInvalidFilename   = errors.New("invalid file name")
	ErrNoFreeBlocks      = errors.New("no free blocks")
	ErrNoFreeInodes      = errors.New("no free inodes")
	ErrInvalidPath       = errors.New("invalid path")
	ErrNotSupported      = errors.New("not supported")
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:          ErrNotFound,
	KindPermissionDenied:  ErrPermissionDenied,
	KindAlreadyExists:     ErrAlreadyExists,
	KindNotADirectory:     ErrNotADirectory,
	KindNotAFile:          ErrNotAFile,
	KindNotASymlink:       ErrNotASymlink,
	KindDirectoryNotEmpty: ErrDirectoryNotEmpty,
	KindIsADirectory:      ErrIsADirectory,
	KindTooLargeFile:      ErrTooLargeFile,
	KindTooLongFileName:   ErrTooLongFileName,
	KindTooManyLinks:      ErrTooManyLinks,
	KindInvalidFilename:   ErrInvalidFilename,
	KindNoFreeBlocks:      ErrNoFreeBlocks,
	KindNoFreeInodes:      ErrNoFreeInodes,
	KindInvalidPath:       ErrInvalidPath,
	KindNotSupported:      ErrNotSupported,
}

// PathError is the error type returned across every VFS operation boundary.
// It carries the offending path and an optional free-form context string.
type PathError struct {
	Op      string
	Path    string
	Kind    ErrorKind
	Context string
	cause   error
}

func (e *PathError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s %s: %s (%s)", e.Op, e.Path, e.Kind, e.Context)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *PathError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return kindSentinels[e.Kind]
}

// newErr builds a PathError and wraps it with github.com/pkg/errors so a
// stack trace is attached at the point the failure was first observed.
func newErr(op, path string, kind ErrorKind, context string) error {
	pe := &PathError{Op: op, Path: path, Kind: kind, Context: context, cause: kindSentinels[kind]}
	return pkgerrors.WithStack(pe)
}

// withPath re-wraps err, which was raised without path information by an
// inner engine call, into a PathError carrying path. If err already carries
// a path (e.g. bubbled up from a recursive walk) it is returned unchanged.
func withPath(err error, path string) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if pkgerrors.As(err, &pe) {
		if pe.Path != "" {
			return err
		}
		return newErr(pe.Op, path, pe.Kind, pe.Context)
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return newErr("", path, kind, err.Error())
		}
	}
	return pkgerrors.Wrapf(err, "path %s", path)
}

// IsKind reports whether err (or anything in its chain) is a *PathError, or
// wraps a sentinel, of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PathError
	if pkgerrors.As(err, &pe) {
		return pe.Kind == kind
	}
	sentinel, ok := kindSentinels[kind]
	return ok && errors.Is(err, sentinel)
}

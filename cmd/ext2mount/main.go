// Command ext2mount mounts an ext2 image over FUSE, using
// github.com/hanwen/go-fuse/v2's high-level node API (fuse_node.go's
// Node) rather than its low-level raw filesystem API, since this front
// end needs to support writes.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	fusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/blocklayer/ext2fs"
)

func main() {
	debug := flag.Bool("debug", false, "enable FUSE protocol debug logging")
	readOnly := flag.Bool("ro", false, "mount read-only")
	mkfs := flag.Bool("mkfs", false, "format the image as a fresh filesystem before mounting")
	mkfsBlocks := flag.Uint("mkfs-blocks", 65536, "block count to format with when -mkfs is given")
	flag.Parse()

	if flag.NArg() != 2 {
		log.Fatalf("usage: ext2mount [flags] <image> <mountpoint>")
	}
	imagePath := flag.Arg(0)
	mountPoint := flag.Arg(1)

	baseLogger := logrus.New()
	entry := logrus.NewEntry(baseLogger)

	dev, err := ext2.NewFileBlockDevice(imagePath, ext2.SectorSize, !*readOnly || *mkfs)
	if err != nil {
		entry.WithError(err).Fatal("open image")
	}

	var fsys *ext2.FileSystem
	if *mkfs {
		fsys, err = ext2.MkFS(dev, uint32(*mkfsBlocks), ext2.WithLogger(entry))
	} else {
		fsys, err = ext2.Open(dev, ext2.WithLogger(entry))
	}
	if err != nil {
		entry.WithError(err).Fatal("prepare image")
	}

	root := ext2.Root(fsys)
	server, err := fusefs.Mount(mountPoint, root, &fusefs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      *debug,
			FsName:     "ext2fs",
			Name:       "ext2fs",
			AllowOther: false,
		},
	})
	if err != nil {
		entry.WithError(err).Fatal("mount FUSE server")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		entry.Info("unmounting")
		if err := fsys.Flush(); err != nil {
			entry.WithError(err).Error("flush on shutdown")
		}
		server.Unmount()
	}()

	entry.WithField("mountpoint", mountPoint).Info("serving ext2 image")
	server.Wait()
}

// Command ext2ls is a read-only inspection tool for ext2 images: an
// ls/cat/info command surface backed by *ext2.FileSystem.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/blocklayer/ext2fs"
)

const usage = `ext2ls - ext2 image inspection tool

Usage:
  ext2ls ls <image> [<path>]     List files in an ext2 image (optionally in a specific path)
  ext2ls cat <image> <file>      Display contents of a file in an ext2 image
  ext2ls info <image>            Display information about an ext2 image
  ext2ls help                    Show this help message
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ls":
		if len(os.Args) < 3 {
			fmt.Println("Error: missing image path")
			os.Exit(1)
		}
		path := "/"
		if len(os.Args) > 3 {
			path = os.Args[3]
		}
		if err := listFiles(os.Args[2], path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	case "cat":
		if len(os.Args) < 4 {
			fmt.Println("Error: missing image path or target file")
			os.Exit(1)
		}
		if err := catFile(os.Args[2], os.Args[3]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	case "info":
		if len(os.Args) < 3 {
			fmt.Println("Error: missing image path")
			os.Exit(1)
		}
		if err := showInfo(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	case "help":
		fmt.Println(usage)
	default:
		fmt.Printf("Error: unknown command %q\n", os.Args[1])
		fmt.Println(usage)
		os.Exit(1)
	}
}

func openImage(path string) (*ext2.FileSystem, error) {
	dev, err := ext2.NewFileBlockDevice(path, ext2.SectorSize, false)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	fsys, err := ext2.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return fsys, nil
}

func printEntry(path string, meta ext2.Metadata) {
	typeChar := "-"
	switch {
	case meta.Type.IsDir():
		typeChar = "d"
	case meta.Type.IsSymlink():
		typeChar = "l"
	}
	mode := meta.Mode.String()
	permissions := mode[1:]
	size := fmt.Sprintf("%8d", meta.Size)
	if meta.Type.IsDir() {
		size = "       -"
	}
	timeStr := meta.Mtime.Format("Jan 02 15:04")
	fmt.Printf("%s%s %s %s %s\n", typeChar, permissions, size, timeStr, path)
}

func listFiles(imgPath, dirPath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}

	meta, err := fsys.Metadata(dirPath)
	if err != nil {
		return fmt.Errorf("path %q not found: %w", dirPath, err)
	}
	if !meta.IsDir() {
		printEntry(dirPath, meta)
		return nil
	}

	entries, err := fsys.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dirPath, err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to stat %q: %s\n", e.Name(), err)
			continue
		}
		display := dirPath
		if display == "/" {
			display += e.Name()
		} else {
			display += "/" + e.Name()
		}
		printEntry(display, info.Sys().(ext2.Metadata))
	}
	return nil
}

func catFile(imgPath, filePath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}
	f, err := fsys.OpenFile(filePath)
	if err != nil {
		return fmt.Errorf("open %q: %w", filePath, err)
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}

func showInfo(imgPath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}
	sb := fsys.Superblock()
	fmt.Printf("UUID:          %s\n", sb.UUID())
	fmt.Printf("Volume name:   %s\n", sb.VolumeName())
	fmt.Printf("Block size:    %d\n", sb.BlockSizeBytes())
	fmt.Printf("Blocks:        %d (free %d)\n", sb.BlocksCount, sb.FreeBlocksCount)
	fmt.Printf("Inodes:        %d (free %d)\n", sb.InodesCount, sb.FreeInodesCount)
	fmt.Printf("Groups:        %d\n", len(fsys.Groups()))
	fmt.Printf("Last mounted:  %s\n", sb.ModTime())
	return nil
}

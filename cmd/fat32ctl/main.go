package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/embedfat/fat32"
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/fsck"
	"github.com/embedfat/fat32/hosttest"
	"github.com/embedfat/fat32/internal/dirent"
	"github.com/embedfat/fat32/media"
)

func main() {
	app := &cli.App{
		Usage: "Inspect and manipulate FAT32 volume images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a freshly formatted FAT32 image file",
				ArgsUsage: "IMAGE_FILE TOTAL_SECTORS",
				Action:    formatImage,
			},
			{
				Name:      "info",
				Usage:     "Print volume geometry, free space, and media classification",
				ArgsUsage: "IMAGE_FILE",
				Action:    infoImage,
			},
			{
				Name:      "label",
				Usage:     "Print the volume label",
				ArgsUsage: "IMAGE_FILE",
				Action:    labelImage,
			},
			{
				Name:      "fsck",
				Usage:     "Check a volume's on-disk invariants",
				ArgsUsage: "IMAGE_FILE",
				Action:    fsckImage,
			},
			{
				Name:      "dir",
				Usage:     "List a directory's entries",
				ArgsUsage: "IMAGE_FILE [PATH]",
				Action:    dirImage,
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				ArgsUsage: "IMAGE_FILE PATH",
				Action:    mkdirImage,
			},
			{
				Name:      "rm",
				Usage:     "Remove a file",
				ArgsUsage: "IMAGE_FILE PATH",
				Action:    rmImage,
			},
			{
				Name:      "rmdir",
				Usage:     "Remove an empty directory",
				ArgsUsage: "IMAGE_FILE PATH",
				Action:    rmdirImage,
			},
			{
				Name:      "mv",
				Usage:     "Rename/move an entry",
				ArgsUsage: "IMAGE_FILE SRC_PATH DST_PATH",
				Action:    mvImage,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				ArgsUsage: "IMAGE_FILE PATH",
				Action:    catImage,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fat32ctl: %s", err.Error())
	}
}

func fatNow() dirent.DateTime {
	now := time.Now()
	year := uint16(now.Year() - 1980)
	date := (year << 9) | (uint16(now.Month()) << 5) | uint16(now.Day())
	t := (uint16(now.Hour()) << 11) | (uint16(now.Minute()) << 5) | uint16(now.Second()/2)
	return dirent.DateTime(uint32(date)<<16 | uint32(t))
}

func openImage(path string) (*hosttest.Image, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return hosttest.NewFromBytes(buf), nil
}

func mountRW(path string) (*fat32.Volume, *hosttest.Image, error) {
	img, err := openImage(path)
	if err != nil {
		return nil, nil, err
	}
	vol, err := fat32.Mount(img, fat32.MountReadWrite)
	if err != nil {
		return nil, nil, err
	}
	return vol, img, nil
}

func persist(path string, img *hosttest.Image) error {
	return os.WriteFile(path, img.Bytes(), 0o644)
}

func formatImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: fat32ctl format IMAGE_FILE TOTAL_SECTORS")
	}
	path := c.Args().Get(0)
	var totalSectors uint32
	if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &totalSectors); err != nil {
		return fmt.Errorf("invalid TOTAL_SECTORS: %w", err)
	}

	img := hosttest.FormatBlank(totalSectors, hosttest.DefaultFormatOptions())
	return os.WriteFile(path, img.Bytes(), 0o644)
}

func infoImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: fat32ctl info IMAGE_FILE")
	}
	vol, _, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}

	geo := vol.Geometry()
	free, err := vol.Free()
	if err != nil {
		return err
	}

	fmt.Printf("bytes per sector:    %d\n", geo.BytesPerSector)
	fmt.Printf("sectors per cluster: %d\n", geo.SectorsPerCluster)
	fmt.Printf("FAT start LBA:       %d\n", geo.FATStartLBA)
	fmt.Printf("FAT count:           %d\n", geo.FATCount)
	fmt.Printf("data start LBA:      %d\n", geo.DataStartLBA)
	fmt.Printf("root cluster:        %d\n", geo.RootCluster)
	fmt.Printf("total clusters:      %d\n", geo.TotalClusters())
	fmt.Printf("free clusters (hint):%d\n", free)

	if preset, err := media.Classify(geo); err == nil {
		fmt.Printf("media class:         %s (%s)\n", preset.Name, preset.FormFactor)
	}
	return nil
}

func labelImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: fat32ctl label IMAGE_FILE")
	}
	vol, _, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := vol.Label(); err != nil {
		return err
	}

	buf := vol.Buffer()
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	fmt.Println(string(buf[:n]))
	return nil
}

func fsckImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: fat32ctl fsck IMAGE_FILE")
	}
	vol, _, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}

	report, checkErr := fsck.Check(vol)
	fmt.Printf("total clusters:     %d\n", report.TotalClusters)
	fmt.Printf("reachable clusters: %d\n", report.ReachableClusters)
	fmt.Printf("free clusters:      %d\n", report.FreeClusters)
	fmt.Printf("FSInfo hint:        %d (accurate: %v)\n", report.FSInfoFreeHint, report.FSInfoHintAccurate)
	if checkErr != nil {
		fmt.Printf("violations found:\n%s\n", checkErr.Error())
		return cli.Exit("fsck found violations", 1)
	}
	fmt.Println("no violations found")
	return nil
}

func dirImage(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("usage: fat32ctl dir IMAGE_FILE [PATH]")
	}
	vol, _, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}

	if c.Args().Len() >= 2 {
		if err := vol.Cd(c.Args().Get(1)); err != nil {
			return err
		}
	}

	startOver := true
	for {
		status, err := vol.Dir(startOver)
		if err != nil {
			return err
		}
		startOver = false

		buf := vol.Buffer()
		for i := 0; i < len(buf)/dirent.EntrySize; i++ {
			off := i * dirent.EntrySize
			e := dirent.Decode(buf[off : off+dirent.EntrySize])
			if e.IsEndOfDirectory() {
				break
			}
			if e.IsFree() {
				continue
			}
			kind := "file"
			if e.IsDirectory() {
				kind = "dir "
			}
			fmt.Printf("%s  %8d  %s\n", kind, e.Size, string(e.Name[:]))
		}

		if status.IsError() {
			return fmt.Errorf("dir: %s", status)
		}
		if status == errs.Ok {
			break
		}
	}
	return nil
}

func mkdirImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: fat32ctl mkdir IMAGE_FILE PATH")
	}
	vol, img, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := vol.Mkdir(c.Args().Get(1), fatNow()); err != nil {
		return err
	}
	return persist(c.Args().Get(0), img)
}

func rmImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: fat32ctl rm IMAGE_FILE PATH")
	}
	vol, img, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := vol.Rm(c.Args().Get(1)); err != nil {
		return err
	}
	return persist(c.Args().Get(0), img)
}

func rmdirImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: fat32ctl rmdir IMAGE_FILE PATH")
	}
	vol, img, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := vol.Rmdir(c.Args().Get(1)); err != nil {
		return err
	}
	return persist(c.Args().Get(0), img)
}

func mvImage(c *cli.Context) error {
	if c.Args().Len() != 3 {
		return fmt.Errorf("usage: fat32ctl mv IMAGE_FILE SRC_PATH DST_PATH")
	}
	vol, img, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := vol.Mv(c.Args().Get(1), c.Args().Get(2)); err != nil {
		return err
	}
	return persist(c.Args().Get(0), img)
}

func catImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: fat32ctl cat IMAGE_FILE PATH")
	}
	vol, _, err := mountRW(c.Args().Get(0))
	if err != nil {
		return err
	}

	idx, err := vol.Open(c.Args().Get(1), fatNow())
	if err != nil {
		return err
	}
	defer vol.Close(idx)

	for {
		n, status, err := vol.Read(idx)
		if err != nil {
			return err
		}
		buf := vol.Buffer()
		if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
			return werr
		}
		if status == errs.Ok {
			break
		}
	}
	return nil
}

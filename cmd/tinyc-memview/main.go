// Command tinyc-memview shows the storage of a TinyC run as a grid of 8-byte
// words coloured by region: the reserved null page, auto storage, the unused
// gap, live heap blocks, interned strings and freed heap.
//
// Usage:
//
//	tinyc-memview [flags] program.c
//	tinyc-memview [flags] -snapshot memory.zip
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hajimehoshi/ebiten/v2"

	"tinyc/pkg/grid"
	"tinyc/pkg/storage"
	"tinyc/pkg/tinyc"
)

// loadMemory returns the storage to show: a snapshot written by tinyc
// -snapshot, or the storage left behind by running program.
func loadMemory(ctx context.Context, snapshot, program string, size int64) (*storage.Manager, error) {
	if snapshot != "" {
		data, err := os.ReadFile(snapshot)
		if err != nil {
			return nil, err
		}
		return storage.ReadSnapshot(data)
	}
	if program == "" {
		return nil, fmt.Errorf("nothing to show: give a program or -snapshot")
	}

	s := tinyc.New(tinyc.WithStorageSize(size))
	if err := s.CompileFile(program); err != nil {
		return nil, err
	}
	if _, err := s.Execute(ctx); err != nil {
		// The memory at the point of failure is still worth a look.
		log.Printf("run failed: %v", err)
	}
	return s.Storage(), nil
}

func main() {
	snapshot := flag.String("snapshot", "", "storage snapshot written by tinyc -snapshot")
	size := flag.Int64("size", storage.DefaultSize, "storage size in bytes when running a program")
	cols := flag.Int("cols", 128, "words per row")
	cell := flag.Int("cell", 4, "cell size in pixels")
	flag.Parse()

	mem, err := loadMemory(context.Background(), *snapshot, flag.Arg(0), *size)
	if err != nil {
		log.Fatalf("load failed: %v", err)
	}

	title := *snapshot
	if title == "" {
		title = filepath.Base(flag.Arg(0))
	}
	layout := grid.Grid{Cols: *cols, CellW: *cell, CellH: *cell, Gap: 1}
	viewer := NewViewer(mem, layout, title)

	w, h := viewer.Layout(0, 0)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(w*2, h*2)
	ebiten.SetWindowTitle("TinyC Memory - " + title)

	if err := ebiten.RunGame(viewer); err != nil {
		log.Fatal(err)
	}
}

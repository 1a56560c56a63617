package main

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"

	"tinyc/pkg/grid"
	"tinyc/pkg/storage"
)

const legendHeight = 40

var background = color.RGBA{0x18, 0x18, 0x18, 0xff}

var palette = map[storage.Region]color.RGBA{
	storage.RegionReserved:   {0x80, 0x20, 0x20, 0xff},
	storage.RegionAuto:       {0x30, 0xa0, 0xf0, 0xff},
	storage.RegionUnused:     {0x40, 0x40, 0x40, 0xff},
	storage.RegionHeapLive:   {0xf0, 0xa0, 0x30, 0xff},
	storage.RegionHeapPinned: {0x70, 0xd0, 0x70, 0xff},
	storage.RegionHeapFree:   {0x60, 0x50, 0x80, 0xff},
}

var legendOrder = []storage.Region{
	storage.RegionReserved,
	storage.RegionAuto,
	storage.RegionUnused,
	storage.RegionHeapLive,
	storage.RegionHeapPinned,
	storage.RegionHeapFree,
}

// cellColor is the colour of the word at addr. Words holding only zero bytes
// are drawn at half brightness.
func cellColor(mem *storage.Manager, addr int64) color.RGBA {
	c := palette[mem.Classify(addr)]
	end := min(addr+storage.Alignment, mem.Size())
	for _, b := range mem.Bytes()[addr:end] {
		if b != 0 {
			return c
		}
	}
	return color.RGBA{c.R / 2, c.G / 2, c.B / 2, c.A}
}

// renderPixels draws one cell per 8-byte word into an RGBA buffer sized for
// layout.
func renderPixels(mem *storage.Manager, layout grid.Grid) (pix []byte, w, h int) {
	cells := int(mem.Size() / storage.Alignment)
	w, h = layout.Size(cells)
	pix = make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = background.R, background.G, background.B, background.A
	}

	for cell := range cells {
		c := cellColor(mem, int64(cell)*storage.Alignment)
		px, py := layout.CellAt(cell)
		for y := py; y < py+layout.CellH; y++ {
			for x := px; x < px+layout.CellW; x++ {
				o := (y*w + x) * 4
				pix[o], pix[o+1], pix[o+2], pix[o+3] = c.R, c.G, c.B, c.A
			}
		}
	}
	return pix, w, h
}

// describe renders the word at addr for the hover line.
func describe(mem *storage.Manager, addr int64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%#06x %-8s", addr, mem.Classify(addr))
	end := min(addr+storage.Alignment, mem.Size())
	for _, b := range mem.Bytes()[addr:end] {
		fmt.Fprintf(&sb, " %02x", b)
	}
	if size, ok := mem.AllocationSize(addr); ok {
		fmt.Fprintf(&sb, "  block of %d bytes", size)
	}
	return sb.String()
}

type Viewer struct {
	mem    *storage.Manager
	layout grid.Grid
	title  string

	pixels        []byte
	width, height int
	canvas        *ebiten.Image
	swatches      map[storage.Region]*ebiten.Image
	face          text.Face
	hover         int
}

func NewViewer(mem *storage.Manager, layout grid.Grid, title string) *Viewer {
	pix, w, h := renderPixels(mem, layout)
	return &Viewer{
		mem:    mem,
		layout: layout,
		title:  title,
		pixels: pix,
		width:  w,
		height: h,
		face:   text.NewGoXFace(basicfont.Face7x13),
		hover:  -1,
	}
}

func (v *Viewer) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyQ) {
		return ebiten.Termination
	}
	x, y := ebiten.CursorPosition()
	v.hover = v.layout.IndexAt(x, y, int(v.mem.Size()/storage.Alignment))
	return nil
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	if v.canvas == nil {
		v.canvas = ebiten.NewImage(v.width, v.height)
		v.canvas.WritePixels(v.pixels)
	}
	screen.Fill(background)
	screen.DrawImage(v.canvas, nil)
	v.drawLegend(screen)

	status := v.title
	if v.hover >= 0 {
		status = describe(v.mem, int64(v.hover)*storage.Alignment)
	}
	ebitenutil.DebugPrintAt(screen, status, 4, v.height+22)
}

func (v *Viewer) drawLegend(screen *ebiten.Image) {
	if v.swatches == nil {
		v.swatches = make(map[storage.Region]*ebiten.Image, len(palette))
		for r, c := range palette {
			img := ebiten.NewImage(10, 10)
			img.Fill(c)
			v.swatches[r] = img
		}
	}

	x := 4
	y := v.height + 4
	for _, r := range legendOrder {
		op := &ebiten.DrawImageOptions{}
		op.GeoM.Translate(float64(x), float64(y+2))
		screen.DrawImage(v.swatches[r], op)

		label := r.String()
		top := &text.DrawOptions{}
		top.GeoM.Translate(float64(x+14), float64(y))
		top.ColorScale.ScaleWithColor(color.White)
		text.Draw(screen, label, v.face, top)

		w, _ := text.Measure(label, v.face, 0)
		x += 14 + int(w) + 16
	}
}

func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return v.width, v.height + legendHeight
}

package storage

import (
	"fmt"
	"io"
)

// Stats summarises the arena after (or during) a run.
type Stats struct {
	Size          int64 `json:"size"`
	Current       int64 `json:"current"`
	Dynamic       int64 `json:"dynamic"`
	FrameCount    int   `json:"frame_count"`
	MaxFrames     int   `json:"max_frames"`
	AutoMark      int64 `json:"auto_mark"`
	DynamicMark   int64 `json:"dynamic_mark"`
	LiveBlocks    int   `json:"live_blocks"`
	LiveBytes     int64 `json:"live_bytes"`
	FreeBlocks    int   `json:"free_blocks"`
	FreeBytes     int64 `json:"free_bytes"`
	PooledStrings int   `json:"pooled_strings"`
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Size:          m.size,
		Current:       m.current,
		Dynamic:       m.dynamic,
		FrameCount:    m.frameCount,
		MaxFrames:     m.maxFrames,
		AutoMark:      m.autoMark,
		DynamicMark:   m.dynamicMark,
		LiveBlocks:    len(m.allocList),
		FreeBlocks:    len(m.freeList),
		PooledStrings: len(m.stringPool),
	}
	for _, b := range m.allocList {
		s.LiveBytes += b.Size
	}
	for _, b := range m.freeList {
		s.FreeBytes += b.Size
	}
	return s
}

// WriteSummary prints the end-of-run memory report.
func (s Stats) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "memory: %d bytes, auto %d used (peak %d), heap %d used (peak %d)\n",
		s.Size, s.Current, s.AutoMark, s.Size-s.Dynamic, s.Size-s.DynamicMark)
	fmt.Fprintf(w, "frames: %d of %d\n", s.FrameCount, s.MaxFrames)
	fmt.Fprintf(w, "heap blocks: %d live (%d bytes), %d free (%d bytes)\n",
		s.LiveBlocks, s.LiveBytes, s.FreeBlocks, s.FreeBytes)
	fmt.Fprintf(w, "interned strings: %d\n", s.PooledStrings)
}

// Region classifies an address for display.
type Region int

const (
	RegionReserved Region = iota
	RegionAuto
	RegionUnused
	RegionHeapLive
	RegionHeapPinned
	RegionHeapFree
)

var regionNames = [...]string{
	RegionReserved:   "reserved",
	RegionAuto:       "auto",
	RegionUnused:     "unused",
	RegionHeapLive:   "heap",
	RegionHeapPinned: "string",
	RegionHeapFree:   "free",
}

func (r Region) String() string {
	if int(r) >= 0 && int(r) < len(regionNames) {
		return regionNames[r]
	}
	return fmt.Sprintf("Region(%d)", int(r))
}

// Classify returns the region addr belongs to.
func (m *Manager) Classify(addr int64) Region {
	switch {
	case addr < Alignment || addr >= m.size:
		return RegionReserved
	case addr < m.current:
		return RegionAuto
	case addr < m.dynamic:
		return RegionUnused
	}
	if i, ok := m.findAlloc(addr); ok {
		if m.allocList[i].Pinned {
			return RegionHeapPinned
		}
		return RegionHeapLive
	}
	return RegionHeapFree
}

// Span is a run of consecutive addresses in the same region.
type Span struct {
	Start  int64
	End    int64
	Region Region
}

// Regions splits the whole buffer into spans of equal classification.
func (m *Manager) Regions() []Span {
	var spans []Span
	for addr := int64(0); addr < m.size; addr++ {
		r := m.Classify(addr)
		if n := len(spans); n > 0 && spans[n-1].Region == r {
			spans[n-1].End = addr + 1
			continue
		}
		spans = append(spans, Span{Start: addr, End: addr + 1, Region: r})
	}
	return spans
}

// Package storage simulates the byte-addressable memory a TinyC program runs in.
//
// A Manager owns one fixed-size buffer. Auto storage (globals, locals and
// frame temporaries) grows up from the bottom in stack frames and is released
// in bulk by PopStorage. Dynamic storage grows down from the top and is
// released block by block with Free. Addresses are plain offsets into the
// buffer; address 0 is reserved so that it can act as the null pointer.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
)

const (
	// Alignment is the granularity of AllocateAuto and AllocateDynamic.
	Alignment = 8
	// DefaultSize is the buffer size used when New is given a non-positive size.
	DefaultSize = 64 * 1024
	// DefaultMaxFrames bounds the number of nested frames.
	DefaultMaxFrames = 256
)

var (
	ErrFault          = errors.New("memory fault")
	ErrStackOverflow  = errors.New("storage stack overflow")
	ErrStackUnderflow = errors.New("storage stack underflow")
	ErrOutOfMemory    = errors.New("out of memory")
	ErrInvalidFree    = errors.New("invalid free")
)

// Block is a contiguous address range.
type Block struct {
	Address int64 `json:"address"`
	Size    int64 `json:"size"`
	Pinned  bool  `json:"pinned,omitempty"`
}

// End returns the first address past the block.
func (b Block) End() int64 { return b.Address + b.Size }

func (b Block) contains(addr, n int64) bool {
	return addr >= b.Address && addr+n <= b.End()
}

// Manager is the storage arena for one program run. It is not safe for
// concurrent use.
type Manager struct {
	buffer []byte

	base    int64
	current int64
	dynamic int64
	size    int64

	stack      []int64
	frameCount int
	maxFrames  int

	autoMark    int64
	dynamicMark int64

	// freeList and allocList are kept sorted by address.
	freeList  []Block
	allocList []Block

	stringPool map[string]int64

	logger *slog.Logger
	trace  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxFrames sets the frame nesting limit.
func WithMaxFrames(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxFrames = n
		}
	}
}

// WithLogger sets the logger used for the memory trace.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTrace logs every typed access at debug level.
func WithTrace(on bool) Option {
	return func(m *Manager) { m.trace = on }
}

// New creates a Manager with a zeroed buffer of size bytes.
func New(size int64, opts ...Option) *Manager {
	if size <= 0 {
		size = DefaultSize
	}
	size = Align(size)
	m := &Manager{
		buffer:      make([]byte, size),
		current:     Alignment,
		dynamic:     size,
		size:        size,
		maxFrames:   DefaultMaxFrames,
		autoMark:    Alignment,
		dynamicMark: size,
		stringPool:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return m
}

// Align rounds n up to a multiple of Alignment.
func Align(n int64) int64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

func (m *Manager) Size() int64     { return m.size }
func (m *Manager) Current() int64  { return m.current }
func (m *Manager) Dynamic() int64  { return m.dynamic }
func (m *Manager) FrameCount() int { return m.frameCount }
func (m *Manager) MaxFrames() int  { return m.maxFrames }

// Bytes exposes the underlying buffer for read-only inspection.
func (m *Manager) Bytes() []byte { return m.buffer }

// PushStorage saves the auto cursor so the next PopStorage releases
// everything allocated after this call.
func (m *Manager) PushStorage() error {
	if m.frameCount >= m.maxFrames {
		return fmt.Errorf("%w: %d frames", ErrStackOverflow, m.frameCount)
	}
	m.stack = append(m.stack, m.current)
	m.frameCount++
	return nil
}

// PopStorage restores the auto cursor saved by the matching PushStorage.
// The released bytes keep their contents until the space is reused.
func (m *Manager) PopStorage() error {
	if m.frameCount == 0 {
		return ErrStackUnderflow
	}
	m.current = m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.frameCount--
	return nil
}

// AllocateAuto reserves n bytes in the current frame. Both the start address
// and the size are aligned.
func (m *Manager) AllocateAuto(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size %d", ErrOutOfMemory, n)
	}
	addr := Align(m.current)
	// n is bounded before aligning so that Align cannot overflow.
	if n > m.dynamic-addr || addr+Align(n) > m.dynamic {
		return 0, fmt.Errorf("%w: auto request of %d bytes at %#x", ErrOutOfMemory, n, addr)
	}
	end := addr + Align(n)
	m.current = end
	m.autoMark = max(m.autoMark, end)
	return addr, nil
}

// AllocUnpadded reserves exactly n bytes at the auto cursor without aligning.
func (m *Manager) AllocUnpadded(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size %d", ErrOutOfMemory, n)
	}
	addr := m.current
	if n > m.dynamic-addr {
		return 0, fmt.Errorf("%w: request of %d bytes at %#x", ErrOutOfMemory, n, addr)
	}
	m.current += n
	m.autoMark = max(m.autoMark, m.current)
	return addr, nil
}

// AllocateDynamic reserves n bytes of heap. The free list is searched first
// fit; otherwise the heap boundary moves down.
func (m *Manager) AllocateDynamic(n int64) (int64, error) {
	return m.allocateDynamic(n, false)
}

func (m *Manager) allocateDynamic(n int64, pinned bool) (int64, error) {
	if n <= 0 || n > m.size {
		return 0, fmt.Errorf("%w: dynamic request of %d bytes", ErrOutOfMemory, n)
	}
	n = Align(n)

	addr := int64(-1)
	for i, b := range m.freeList {
		if b.Size < n {
			continue
		}
		addr = b.Address
		if b.Size == n {
			m.freeList = slices.Delete(m.freeList, i, i+1)
		} else {
			m.freeList[i] = Block{Address: b.Address + n, Size: b.Size - n}
		}
		break
	}

	if addr < 0 {
		next := m.dynamic - n
		if next < m.current {
			return 0, fmt.Errorf("%w: dynamic request of %d bytes", ErrOutOfMemory, n)
		}
		m.dynamic = next
		m.dynamicMark = min(m.dynamicMark, next)
		addr = next
	}

	clear(m.buffer[addr : addr+n])
	m.insertAlloc(Block{Address: addr, Size: n, Pinned: pinned})
	return addr, nil
}

// Free releases the dynamic block starting at addr.
func (m *Manager) Free(addr int64) error {
	i, ok := m.findAlloc(addr)
	if !ok || m.allocList[i].Address != addr {
		return fmt.Errorf("%w: %#x is not the start of a live allocation", ErrInvalidFree, addr)
	}
	b := m.allocList[i]
	if b.Pinned {
		return fmt.Errorf("%w: %#x holds an interned string", ErrInvalidFree, addr)
	}
	m.allocList = slices.Delete(m.allocList, i, i+1)
	m.insertFree(Block{Address: b.Address, Size: b.Size})
	return nil
}

// IsFault reports whether addr cannot be accessed: it is outside the buffer,
// inside the reserved null page, or in the heap region without belonging to
// a live allocation.
func (m *Manager) IsFault(addr int64) bool {
	return m.check(addr, 1) != nil
}

func (m *Manager) check(addr, n int64) error {
	if n < 0 || addr < Alignment || addr > m.size || n > m.size-addr {
		return fmt.Errorf("%w: address %#x", ErrFault, addr)
	}
	if addr+n <= m.dynamic {
		return nil
	}
	i, ok := m.findAlloc(addr)
	if !ok || !m.allocList[i].contains(addr, n) {
		return fmt.Errorf("%w: address %#x is not allocated", ErrFault, addr)
	}
	return nil
}

// findAlloc returns the index of the live allocation containing addr.
func (m *Manager) findAlloc(addr int64) (int, bool) {
	i := sort.Search(len(m.allocList), func(i int) bool {
		return m.allocList[i].End() > addr
	})
	if i < len(m.allocList) && m.allocList[i].Address <= addr {
		return i, true
	}
	return i, false
}

func (m *Manager) insertAlloc(b Block) {
	i, _ := slices.BinarySearchFunc(m.allocList, b.Address, func(e Block, t int64) int {
		return compareAddr(e.Address, t)
	})
	m.allocList = slices.Insert(m.allocList, i, b)
}

// insertFree adds b to the free list and merges it with its neighbours.
func (m *Manager) insertFree(b Block) {
	i, _ := slices.BinarySearchFunc(m.freeList, b.Address, func(e Block, t int64) int {
		return compareAddr(e.Address, t)
	})
	m.freeList = slices.Insert(m.freeList, i, b)

	if i+1 < len(m.freeList) && m.freeList[i].End() == m.freeList[i+1].Address {
		m.freeList[i].Size += m.freeList[i+1].Size
		m.freeList = slices.Delete(m.freeList, i+1, i+2)
	}
	if i > 0 && m.freeList[i-1].End() == m.freeList[i].Address {
		m.freeList[i-1].Size += m.freeList[i].Size
		m.freeList = slices.Delete(m.freeList, i, i+1)
	}
}

func compareAddr(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// AllocationSize returns the size of the live dynamic block starting at addr.
func (m *Manager) AllocationSize(addr int64) (int64, bool) {
	i, ok := m.findAlloc(addr)
	if !ok || m.allocList[i].Address != addr {
		return 0, false
	}
	return m.allocList[i].Size, true
}

func (m *Manager) traceAccess(op string, addr int64, kind string, v any) {
	if !m.trace {
		return
	}
	ctx := context.Background()
	if !m.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	m.logger.Log(ctx, slog.LevelDebug, "memory",
		slog.String("op", op),
		slog.String("addr", fmt.Sprintf("%#x", addr)),
		slog.String("type", kind),
		slog.Any("value", v),
	)
}

package storage

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// snapshotState is the JSON-serializable part of a Manager.
type snapshotState struct {
	Size        int64            `json:"size"`
	Base        int64            `json:"base"`
	Current     int64            `json:"current"`
	Dynamic     int64            `json:"dynamic"`
	Stack       []int64          `json:"stack"`
	FrameCount  int              `json:"frame_count"`
	MaxFrames   int              `json:"max_frames"`
	AutoMark    int64            `json:"auto_mark"`
	DynamicMark int64            `json:"dynamic_mark"`
	FreeList    []Block          `json:"free_list"`
	AllocList   []Block          `json:"alloc_list"`
	Strings     map[string]int64 `json:"strings"`
}

// WriteSnapshot writes the arena as a zip archive holding storage_state.json
// and memory.bin.
func (m *Manager) WriteSnapshot(w io.Writer) error {
	zw := zip.NewWriter(w)

	state := snapshotState{
		Size:        m.size,
		Base:        m.base,
		Current:     m.current,
		Dynamic:     m.dynamic,
		Stack:       m.stack,
		FrameCount:  m.frameCount,
		MaxFrames:   m.maxFrames,
		AutoMark:    m.autoMark,
		DynamicMark: m.dynamicMark,
		FreeList:    m.freeList,
		AllocList:   m.allocList,
		Strings:     m.stringPool,
	}
	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage_state: %w", err)
	}
	if err := writeZipEntry(zw, "storage_state.json", jsonData); err != nil {
		return err
	}
	if err := writeZipEntry(zw, "memory.bin", m.buffer); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

// ReadSnapshot rebuilds a Manager from an archive written by WriteSnapshot.
func ReadSnapshot(data []byte, opts ...Option) (*Manager, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	stateData, err := readZipEntry(fileMap, "storage_state.json")
	if err != nil {
		return nil, err
	}
	var state snapshotState
	if err := json.Unmarshal(stateData, &state); err != nil {
		return nil, fmt.Errorf("unmarshal storage_state: %w", err)
	}

	mem, err := readZipEntry(fileMap, "memory.bin")
	if err != nil {
		return nil, err
	}
	if int64(len(mem)) != state.Size {
		return nil, fmt.Errorf("memory.bin holds %d bytes, state says %d", len(mem), state.Size)
	}
	if state.Current > state.Dynamic || state.Dynamic > state.Size || state.FrameCount != len(state.Stack) {
		return nil, fmt.Errorf("inconsistent storage state: current %#x dynamic %#x size %#x",
			state.Current, state.Dynamic, state.Size)
	}

	m := New(state.Size, append([]Option{WithMaxFrames(state.MaxFrames)}, opts...)...)
	copy(m.buffer, mem)
	m.base = state.Base
	m.current = state.Current
	m.dynamic = state.Dynamic
	m.stack = state.Stack
	m.frameCount = state.FrameCount
	m.autoMark = state.AutoMark
	m.dynamicMark = state.DynamicMark
	m.freeList = state.FreeList
	m.allocList = state.AllocList
	if state.Strings != nil {
		m.stringPool = state.Strings
	}
	return m, nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"tinyc/pkg/value"
)

func (m *Manager) span(addr, n int64) ([]byte, error) {
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	return m.buffer[addr : addr+n], nil
}

func (m *Manager) GetChar(addr int64) (int8, error) {
	b, err := m.span(addr, 1)
	if err != nil {
		return 0, err
	}
	m.traceAccess("get", addr, "char", int8(b[0]))
	return int8(b[0]), nil
}

func (m *Manager) SetChar(addr int64, v int8) error {
	b, err := m.span(addr, 1)
	if err != nil {
		return err
	}
	m.traceAccess("set", addr, "char", v)
	b[0] = byte(v)
	return nil
}

func (m *Manager) GetInt(addr int64) (int32, error) {
	b, err := m.span(addr, 4)
	if err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(b))
	m.traceAccess("get", addr, "int", v)
	return v, nil
}

func (m *Manager) SetInt(addr int64, v int32) error {
	b, err := m.span(addr, 4)
	if err != nil {
		return err
	}
	m.traceAccess("set", addr, "int", v)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return nil
}

func (m *Manager) GetLong(addr int64) (int64, error) {
	b, err := m.span(addr, 8)
	if err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(b))
	m.traceAccess("get", addr, "long", v)
	return v, nil
}

func (m *Manager) SetLong(addr int64, v int64) error {
	b, err := m.span(addr, 8)
	if err != nil {
		return err
	}
	m.traceAccess("set", addr, "long", v)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return nil
}

func (m *Manager) GetFloat(addr int64) (float32, error) {
	b, err := m.span(addr, 4)
	if err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(b))
	m.traceAccess("get", addr, "float", v)
	return v, nil
}

func (m *Manager) SetFloat(addr int64, v float32) error {
	b, err := m.span(addr, 4)
	if err != nil {
		return err
	}
	m.traceAccess("set", addr, "float", v)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return nil
}

func (m *Manager) GetDouble(addr int64) (float64, error) {
	b, err := m.span(addr, 8)
	if err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(b))
	m.traceAccess("get", addr, "double", v)
	return v, nil
}

func (m *Manager) SetDouble(addr int64, v float64) error {
	b, err := m.span(addr, 8)
	if err != nil {
		return err
	}
	m.traceAccess("set", addr, "double", v)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return nil
}

// GetString reads a null-terminated string starting at addr.
func (m *Manager) GetString(addr int64) (string, error) {
	if err := m.check(addr, 1); err != nil {
		return "", err
	}
	limit := m.size
	if addr >= m.dynamic {
		i, _ := m.findAlloc(addr)
		limit = m.allocList[i].End()
	}
	end := bytes.IndexByte(m.buffer[addr:limit], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at %#x", ErrFault, addr)
	}
	s := string(m.buffer[addr : addr+int64(end)])
	m.traceAccess("get", addr, "string", s)
	return s, nil
}

// SetString writes s followed by a null byte at addr.
func (m *Manager) SetString(addr int64, s string) error {
	b, err := m.span(addr, int64(len(s))+1)
	if err != nil {
		return err
	}
	m.traceAccess("set", addr, "string", s)
	copy(b, s)
	b[len(s)] = 0
	return nil
}

// GetValue reads a value of type t from addr. Pointers and strings are
// stored as 8-byte addresses.
func (m *Manager) GetValue(addr int64, t value.Type) (value.Value, error) {
	switch {
	case t.IsPointer():
		a, err := m.GetLong(addr)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewPointer(t.Base(), a), nil
	case t == value.Char:
		c, err := m.GetChar(addr)
		return value.NewChar(c), err
	case t == value.Boolean:
		c, err := m.GetChar(addr)
		return value.NewBoolean(c != 0), err
	case t == value.Int:
		n, err := m.GetInt(addr)
		return value.NewInt(n), err
	case t == value.Long:
		n, err := m.GetLong(addr)
		return value.NewLong(n), err
	case t == value.Float:
		f, err := m.GetFloat(addr)
		return value.NewFloat(f), err
	case t == value.Double:
		f, err := m.GetDouble(addr)
		return value.NewDouble(f), err
	case t == value.String:
		a, err := m.GetLong(addr)
		if err != nil {
			return value.Value{}, err
		}
		s, err := m.GetString(a)
		return value.NewString(s), err
	}
	return value.Value{}, fmt.Errorf("%w: cannot load %s", value.ErrBadScalar, t)
}

// SetValue stores v at addr using the width of v's own type. String values
// are interned and their address is stored.
func (m *Manager) SetValue(addr int64, v value.Value) error {
	t := v.Type()
	switch {
	case t.IsPointer():
		return m.SetLong(addr, v.Address())
	case t == value.Char, t == value.Boolean:
		return m.SetChar(addr, v.Char())
	case t == value.Int:
		return m.SetInt(addr, v.Int())
	case t == value.Long:
		return m.SetLong(addr, v.Long())
	case t == value.Float:
		return m.SetFloat(addr, float32(v.Double()))
	case t == value.Double:
		return m.SetDouble(addr, v.Double())
	case t == value.String:
		p, err := m.AllocateString(v.Text())
		if err != nil {
			return err
		}
		return m.SetLong(addr, p.Address())
	}
	return fmt.Errorf("%w: cannot store %s", value.ErrBadScalar, t)
}

// AllocateString interns s and returns a char pointer to its null-terminated
// copy. Repeated calls with the same content return the same address. Strings
// interned outside any frame live in the static area; inside a frame they are
// placed on the heap as pinned blocks so they survive PopStorage.
func (m *Manager) AllocateString(s string) (value.Value, error) {
	if addr, ok := m.stringPool[s]; ok {
		return value.NewPointer(value.Char, addr), nil
	}

	n := int64(len(s)) + 1
	var (
		addr int64
		err  error
	)
	if m.frameCount == 0 {
		addr, err = m.AllocUnpadded(n)
	} else {
		addr, err = m.allocateDynamic(n, true)
	}
	if err != nil {
		return value.Value{}, err
	}
	copy(m.buffer[addr:], s)
	m.buffer[addr+n-1] = 0
	m.stringPool[s] = addr
	return value.NewPointer(value.Char, addr), nil
}

package proxy

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/internal/logging"
)

// BufferType is the binding role of a buffer.
type BufferType uint8

const (
	// BufferVertex holds vertex attributes.
	BufferVertex BufferType = iota
	// BufferIndex holds 16 or 32 bit indices.
	BufferIndex
	// BufferUniform holds a uniform block.
	BufferUniform
	// BufferStorage holds shader storage.
	BufferStorage
)

// String returns the type name.
func (t BufferType) String() string {
	switch t {
	case BufferVertex:
		return "vertex"
	case BufferIndex:
		return "index"
	case BufferUniform:
		return "uniform"
	case BufferStorage:
		return "storage"
	default:
		return fmt.Sprintf("BufferType(%d)", t)
	}
}

func (t BufferType) usage() gputypes.BufferUsage {
	switch t {
	case BufferIndex:
		return gputypes.BufferUsageIndex
	case BufferUniform:
		return gputypes.BufferUsageUniform
	case BufferStorage:
		return gputypes.BufferUsageStorage
	default:
		return gputypes.BufferUsageVertex
	}
}

// BufferUsage is an update-frequency hint.
type BufferUsage uint8

const (
	// UsageStatic data is written once.
	UsageStatic BufferUsage = iota
	// UsageDynamic data is rewritten occasionally.
	UsageDynamic
	// UsageStream data is rewritten every frame.
	UsageStream
)

// String returns the hint name.
func (u BufferUsage) String() string {
	switch u {
	case UsageStatic:
		return "static"
	case UsageDynamic:
		return "dynamic"
	case UsageStream:
		return "stream"
	default:
		return fmt.Sprintf("BufferUsage(%d)", u)
	}
}

// Buffer is a GPU buffer proxy.
type Buffer struct {
	base
	typ  BufferType
	hint BufferUsage

	buf hal.Buffer
	// size is the logical size; capacity is the allocation, rounded up
	// to the 4-byte copy alignment.
	size     uint64
	capacity uint64
}

// NewBuffer allocates an Uncreated buffer proxy.
func NewBuffer(typ BufferType, hint BufferUsage, label string) *Buffer {
	return &Buffer{base: newBase(KindBuffer, label), typ: typ, hint: hint}
}

// Type returns the binding role.
func (b *Buffer) Type() BufferType { return b.typ }

// Usage returns the update-frequency hint.
func (b *Buffer) Usage() BufferUsage { return b.hint }

// Size returns the logical size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// HAL returns the native buffer, or nil before creation.
func (b *Buffer) HAL() hal.Buffer { return b.buf }

func align4(n uint64) uint64 { return max((n+3)&^3, 4) }

// Gen allocates size bytes of zeroed storage, replacing any previous
// allocation.
func (b *Buffer) Gen(dev *backend.Device, size uint64) error {
	if err := b.canCreate(); err != nil {
		return err
	}
	capacity := align4(size)
	buf, err := dev.CreateBuffer(b.label, capacity, b.typ.usage())
	if err != nil {
		logging.L().Warn("proxy: buffer creation failed", "buffer", b.String(), "size", size, "err", err)
		return b.fail(err)
	}
	if b.buf != nil {
		dev.HAL().DestroyBuffer(b.buf)
	}
	b.buf, b.size, b.capacity = buf, size, capacity
	b.created()
	return nil
}

// Data replaces the contents with data. The buffer is reallocated when
// data is larger than the current allocation.
func (b *Buffer) Data(dev *backend.Device, data []byte) error {
	if b.buf == nil || uint64(len(data)) > b.capacity {
		if err := b.Gen(dev, uint64(len(data))); err != nil {
			return err
		}
	}
	if err := b.Usable(); err != nil {
		return err
	}
	b.size = uint64(len(data))
	return dev.WriteBuffer(b.buf, b.capacity, 0, data)
}

// SubData writes data at offset within the current logical size.
func (b *Buffer) SubData(dev *backend.Device, offset uint64, data []byte) error {
	if err := b.Usable(); err != nil {
		return err
	}
	return dev.WriteBuffer(b.buf, b.size, offset, data)
}

// Read copies size bytes at offset back to the CPU.
func (b *Buffer) Read(dev *backend.Device, offset, size uint64) ([]byte, error) {
	if err := b.Usable(); err != nil {
		return nil, err
	}
	return dev.ReadBuffer(b.buf, b.size, offset, size)
}

// Release destroys the native buffer. It is safe on a proxy that was
// never created.
func (b *Buffer) Release(dev *backend.Device) {
	if !b.released() {
		return
	}
	if b.buf != nil {
		dev.HAL().DestroyBuffer(b.buf)
		b.buf = nil
	}
	b.size, b.capacity = 0, 0
}

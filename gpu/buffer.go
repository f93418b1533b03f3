package gpu

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
)

// Buffer binds one GPU allocation to one logical buffer. It never
// synchronizes access on its own: callers are responsible for ordering
// reads and writes via fences and barriers.
type Buffer struct {
	device core1_0.Device
	handle core1_0.Buffer
	memory core1_0.DeviceMemory
	size   int

	// ptr is non-nil while the memory is persistently mapped.
	ptr unsafe.Pointer
}

// NewBuffer creates a buffer of the given size and binds fresh memory
// with the requested properties to it.
func NewBuffer(dev *Device, size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	buffer, _, err := dev.Handle().CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, err
	}

	memRequirements := buffer.MemoryRequirements()
	memoryTypeIndex, err := dev.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		buffer.Destroy(nil)
		return nil, err
	}

	memory, _, err := dev.Handle().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		buffer.Destroy(nil)
		return nil, err
	}

	_, err = buffer.BindBufferMemory(memory, 0)
	if err != nil {
		buffer.Destroy(nil)
		memory.Free(nil)
		return nil, err
	}

	return &Buffer{device: dev.Handle(), handle: buffer, memory: memory, size: size}, nil
}

// NewUniformBuffer creates a host-visible, coherent, persistently
// mapped buffer. Writes through Write need no explicit flush.
func NewUniformBuffer(dev *Device, size int, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	b, err := NewBuffer(dev, size, usage, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	err = b.Map()
	if err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// NewDeviceLocalBuffer creates a device-local buffer and fills it with
// data through a staging buffer on the given queue.
func NewDeviceLocalBuffer(dev *Device, queue *Queue, data any, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	size := binary.Size(data)
	if size < 0 {
		return nil, errors.Newf("buffer data has no fixed binary size")
	}

	staging, err := NewBuffer(dev, size, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	err = staging.writeUnmapped(0, data)
	if err != nil {
		return nil, err
	}

	b, err := NewBuffer(dev, size, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, err
	}

	err = queue.RunOneShot(func(buffer core1_0.CommandBuffer) error {
		return buffer.CmdCopyBuffer(staging.handle, b.handle, []core1_0.BufferCopy{
			{
				SrcOffset: 0,
				DstOffset: 0,
				Size:      size,
			},
		})
	})
	if err != nil {
		b.Destroy()
		return nil, err
	}

	return b, nil
}

// Map maps the buffer's memory persistently. Requires host-visible
// memory.
func (b *Buffer) Map() error {
	if b.ptr != nil {
		return nil
	}
	ptr, _, err := b.memory.Map(0, b.size, 0)
	if err != nil {
		return err
	}
	b.ptr = ptr
	return nil
}

// Write serializes data and copies it into the mapped region at
// offset. The buffer must be mapped, and the caller must have
// established (via fence wait) that no in-flight GPU work still reads
// the region.
func (b *Buffer) Write(offset int, data any) error {
	if b.ptr == nil {
		return errors.AssertionFailedf("Write on unmapped buffer")
	}

	size := binary.Size(data)
	if size < 0 {
		return errors.Newf("buffer data has no fixed binary size")
	}
	if offset+size > b.size {
		return errors.Newf("write of %d bytes at offset %d overflows %d-byte buffer", size, offset, b.size)
	}

	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return err
	}

	region := unsafe.Slice((*byte)(unsafe.Add(b.ptr, offset)), size)
	copy(region, buf.Bytes())
	return nil
}

func (b *Buffer) writeUnmapped(offset int, data any) error {
	err := b.Map()
	if err != nil {
		return err
	}
	defer func() {
		b.memory.Unmap()
		b.ptr = nil
	}()
	return b.Write(offset, data)
}

// Handle returns the underlying buffer.
func (b *Buffer) Handle() core1_0.Buffer { return b.handle }

func (b *Buffer) Size() int { return b.size }

// Destroy releases the buffer and frees its memory.
func (b *Buffer) Destroy() {
	if b.ptr != nil {
		b.memory.Unmap()
		b.ptr = nil
	}
	if b.handle != nil {
		b.handle.Destroy(nil)
		b.handle = nil
	}
	if b.memory != nil {
		b.memory.Free(nil)
		b.memory = nil
	}
}

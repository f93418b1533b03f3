package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
)

// Queue wraps one hardware queue together with two command pools: a
// transient pool for one-shot uploads and a resettable pool for
// persistent per-frame command buffers. Several Queue values may alias
// the same hardware queue family.
type Queue struct {
	device core1_0.Device
	handle core1_0.Queue
	family int

	transientPool  core1_0.CommandPool
	persistentPool core1_0.CommandPool
}

func newQueue(device core1_0.Device, family int) (*Queue, error) {
	q := &Queue{
		device: device,
		handle: device.GetQueue(family, 0),
		family: family,
	}

	var err error
	q.transientPool, _, err = device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: family,
		Flags:            core1_0.CommandPoolCreateTransient,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating transient command pool for family %d", family)
	}

	q.persistentPool, _, err = device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: family,
		Flags:            core1_0.CommandPoolCreateResetBuffer,
	})
	if err != nil {
		q.transientPool.Destroy(nil)
		return nil, errors.Wrapf(err, "creating resettable command pool for family %d", family)
	}

	return q, nil
}

func (q *Queue) Family() int { return q.family }

// Handle returns the underlying queue.
func (q *Queue) Handle() core1_0.Queue { return q.handle }

// AllocateCommandBuffers allocates count primary command buffers from
// the resettable pool. They live until the pool is destroyed.
func (q *Queue) AllocateCommandBuffers(count int) ([]core1_0.CommandBuffer, error) {
	buffers, _, err := q.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        q.persistentPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	return buffers, err
}

// Submit submits work to the queue, optionally signaling fence on
// completion.
func (q *Queue) Submit(fence core1_0.Fence, submits []core1_0.SubmitInfo) error {
	_, err := q.handle.Submit(fence, submits)
	return err
}

// RunOneShot allocates a one-time command buffer from the transient
// pool, lets record fill it, submits it, and blocks until the queue
// drains. Used for uploads and other synchronous setup work only;
// never on the per-frame path.
func (q *Queue) RunOneShot(record func(buffer core1_0.CommandBuffer) error) error {
	buffers, _, err := q.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        q.transientPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return err
	}
	buffer := buffers[0]
	defer q.device.FreeCommandBuffers([]core1_0.CommandBuffer{buffer})

	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return err
	}

	err = record(buffer)
	if err != nil {
		return err
	}

	_, err = buffer.End()
	if err != nil {
		return err
	}

	_, err = q.handle.Submit(nil, []core1_0.SubmitInfo{
		{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	})
	if err != nil {
		return err
	}

	_, err = q.handle.WaitIdle()
	return err
}

func (q *Queue) destroy() {
	if q.persistentPool != nil {
		q.persistentPool.Destroy(nil)
		q.persistentPool = nil
	}
	if q.transientPool != nil {
		q.transientPool.Destroy(nil)
		q.transientPool = nil
	}
}

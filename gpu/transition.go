package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"
)

// Barrier holds the stage and access masks for one image layout
// transition. It says nothing about which image it applies to.
type Barrier struct {
	SrcStage  core1_0.PipelineStageFlags
	SrcAccess core1_0.AccessFlags
	DstStage  core1_0.PipelineStageFlags
	DstAccess core1_0.AccessFlags
}

type transitionKey struct {
	old core1_0.ImageLayout
	new core1_0.ImageLayout
}

// transitions is the full set of layout transitions this renderer
// performs. A pair missing from this table is a logic error, not a
// runtime condition: the caller asked for a transition the renderer
// was never designed to make.
var transitions = map[transitionKey]Barrier{
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutColorAttachmentOptimal}: {
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		SrcAccess: 0,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
		DstAccess: core1_0.AccessColorAttachmentWrite,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, khr_swapchain.ImageLayoutPresentSrc}: {
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		DstStage:  core1_0.PipelineStageBottomOfPipe,
		DstAccess: 0,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutTransferSrcOptimal}: {
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		DstStage:  core1_0.PipelineStageTransfer,
		DstAccess: core1_0.AccessTransferRead,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal}: {
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		SrcAccess: 0,
		DstStage:  core1_0.PipelineStageTransfer,
		DstAccess: core1_0.AccessTransferWrite,
	},
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcStage:  core1_0.PipelineStageTransfer,
		SrcAccess: core1_0.AccessTransferWrite,
		DstStage:  core1_0.PipelineStageFragmentShader,
		DstAccess: core1_0.AccessShaderRead,
	},
	{core1_0.ImageLayoutTransferDstOptimal, khr_swapchain.ImageLayoutPresentSrc}: {
		SrcStage:  core1_0.PipelineStageTransfer,
		SrcAccess: core1_0.AccessTransferWrite,
		DstStage:  core1_0.PipelineStageBottomOfPipe,
		DstAccess: 0,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutDepthStencilAttachmentOptimal}: {
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		SrcAccess: 0,
		DstStage:  core1_0.PipelineStageEarlyFragmentTests,
		DstAccess: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
	},
	{core1_0.ImageLayoutDepthStencilAttachmentOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcStage:  core1_0.PipelineStageLateFragmentTests,
		SrcAccess: core1_0.AccessDepthStencilAttachmentWrite,
		DstStage:  core1_0.PipelineStageFragmentShader,
		DstAccess: core1_0.AccessShaderRead,
	},
	// Shadow sampling with shadows disabled: the descriptor still has
	// to reference a readable image, so the map is moved straight to
	// shader-read without ever being rendered to.
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		SrcAccess: 0,
		DstStage:  core1_0.PipelineStageFragmentShader,
		DstAccess: core1_0.AccessShaderRead,
	},
}

// BarrierFor returns the barrier masks for the transition from
// oldLayout to newLayout. The lookup is pure: it neither inspects nor
// mutates any image state. An unmapped pair is an assertion failure.
//
// During development of a new transition it can be tempting to fall
// back to an all-stages barrier:
//
//	Barrier{
//		SrcStage: core1_0.PipelineStageAllCommands, SrcAccess: core1_0.AccessMemoryWrite,
//		DstStage: core1_0.PipelineStageAllCommands, DstAccess: core1_0.AccessMemoryRead,
//	}
//
// That fallback is deliberately not wired in; add the real pair to the
// table instead.
func BarrierFor(oldLayout, newLayout core1_0.ImageLayout) (Barrier, error) {
	b, ok := transitions[transitionKey{oldLayout, newLayout}]
	if !ok {
		return Barrier{}, errors.AssertionFailedf("no barrier mapping for layout transition %s -> %s", oldLayout, newLayout)
	}
	return b, nil
}

// RecordTransition looks up the barrier for oldLayout -> newLayout and
// records it into buffer for the given raw image handle. Callers that
// hold an *Image should prefer Image.TransitionTo, which also updates
// the tracked layout.
func RecordTransition(buffer core1_0.CommandBuffer, image core1_0.Image, aspect core1_0.ImageAspectFlags, oldLayout, newLayout core1_0.ImageLayout) error {
	b, err := BarrierFor(oldLayout, newLayout)
	if err != nil {
		return err
	}

	return buffer.CmdPipelineBarrier(b.SrcStage, b.DstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     aspect,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcAccessMask: b.SrcAccess,
			DstAccessMask: b.DstAccess,
		},
	})
}

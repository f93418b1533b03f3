package gpu

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"
)

func TestBarrierForKnownPairs(t *testing.T) {
	tests := []struct {
		name string
		old  core1_0.ImageLayout
		new  core1_0.ImageLayout
		want Barrier
	}{
		{
			name: "undefined to color attachment",
			old:  core1_0.ImageLayoutUndefined,
			new:  core1_0.ImageLayoutColorAttachmentOptimal,
			want: Barrier{
				SrcStage:  core1_0.PipelineStageTopOfPipe,
				SrcAccess: 0,
				DstStage:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccess: core1_0.AccessColorAttachmentWrite,
			},
		},
		{
			name: "color attachment to present",
			old:  core1_0.ImageLayoutColorAttachmentOptimal,
			new:  khr_swapchain.ImageLayoutPresentSrc,
			want: Barrier{
				SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccess: core1_0.AccessColorAttachmentWrite,
				DstStage:  core1_0.PipelineStageBottomOfPipe,
				DstAccess: 0,
			},
		},
		{
			name: "transfer dst to shader read",
			old:  core1_0.ImageLayoutTransferDstOptimal,
			new:  core1_0.ImageLayoutShaderReadOnlyOptimal,
			want: Barrier{
				SrcStage:  core1_0.PipelineStageTransfer,
				SrcAccess: core1_0.AccessTransferWrite,
				DstStage:  core1_0.PipelineStageFragmentShader,
				DstAccess: core1_0.AccessShaderRead,
			},
		},
		{
			name: "depth attachment to shader read",
			old:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			new:  core1_0.ImageLayoutShaderReadOnlyOptimal,
			want: Barrier{
				SrcStage:  core1_0.PipelineStageLateFragmentTests,
				SrcAccess: core1_0.AccessDepthStencilAttachmentWrite,
				DstStage:  core1_0.PipelineStageFragmentShader,
				DstAccess: core1_0.AccessShaderRead,
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := BarrierFor(test.old, test.new)
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestBarrierForCoversRequiredTransitions(t *testing.T) {
	required := []transitionKey{
		{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutColorAttachmentOptimal},
		{core1_0.ImageLayoutColorAttachmentOptimal, khr_swapchain.ImageLayoutPresentSrc},
		{core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutTransferSrcOptimal},
		{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal},
		{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal},
		{core1_0.ImageLayoutTransferDstOptimal, khr_swapchain.ImageLayoutPresentSrc},
		{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutDepthStencilAttachmentOptimal},
		{core1_0.ImageLayoutDepthStencilAttachmentOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal},
		{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutShaderReadOnlyOptimal},
	}

	for _, key := range required {
		_, err := BarrierFor(key.old, key.new)
		assert.NoError(t, err, "missing transition %s -> %s", key.old, key.new)
	}
}

func TestBarrierForIsPure(t *testing.T) {
	// Repeated lookups, including interleaved reverse-order requests,
	// must reproduce identical barriers: the table holds no state.
	first, err := BarrierFor(core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	require.NoError(t, err)

	_, err = BarrierFor(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	require.NoError(t, err)

	second, err := BarrierFor(core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBarrierForUnmappedPair(t *testing.T) {
	_, err := BarrierFor(core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutColorAttachmentOptimal)
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err), "unmapped transition should be an assertion failure, got %v", err)

	// The reverse of a mapped pair is not implicitly mapped.
	_, err = BarrierFor(core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutUndefined)
	assert.Error(t, err)
}

package scheduler

import "github.com/forgecloud/podscaler/core/types"

// gpuTypeFor decides which GPU class a prompt needs. Video workflows
// need the larger VRAM budget; image workflows run on the cheaper SKU.
// Derived from the workflow type rather than supplied by the caller,
// since the public surface only takes (workflowType, inputURL).
func gpuTypeFor(wt types.WorkflowType) types.GPUType {
	if wt.IsVideo() {
		return types.GPURTXA6000
	}
	return types.GPURTX4090
}

// warmupWorkflowFor picks the workflow a freshly provisioned pod of the
// given GPU class runs as its warm-up prompt.
func warmupWorkflowFor(gpuType types.GPUType) types.WorkflowType {
	if gpuType == types.GPURTXA6000 {
		return types.WorkflowMagicVideo
	}
	return types.WorkflowGhibli
}

// volumeTypeFor picks the network volume a pod of the given GPU class
// mounts. Both GPU classes share the default volume; EasyControl is an
// opt-in workflow variant this dispatch path doesn't select
// automatically.
func volumeTypeFor(types.GPUType) types.VolumeType {
	return types.VolumeDefault
}

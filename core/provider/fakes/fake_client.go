package fakes

import (
	"context"
	"sync"

	"github.com/forgecloud/podscaler/core/provider"
	"github.com/forgecloud/podscaler/core/types"
)

// FakeClient is a hand-maintained stand-in for a
// counterfeiter-generated provider.Client fake, kept dependency-free
// since the pack's counterfeiter binary is a go:generate tool, not a
// library this module can vendor output from at write time.
type FakeClient struct {
	CreatePodStub        func(context.Context, string, types.GPUType, string) (string, error)
	createPodMutex       sync.RWMutex
	createPodArgsForCall []struct {
		ctx      context.Context
		name     string
		gpuType  types.GPUType
		volumeID string
	}
	createPodReturns struct {
		result1 string
		result2 error
	}

	GetPodInfoStub        func(context.Context, string) (types.PodInfo, error)
	getPodInfoMutex       sync.RWMutex
	getPodInfoArgsForCall []struct {
		ctx   context.Context
		podID string
	}
	getPodInfoReturns struct {
		result1 types.PodInfo
		result2 error
	}

	DeletePodStub        func(context.Context, string) error
	deletePodMutex       sync.RWMutex
	deletePodArgsForCall []struct {
		ctx   context.Context
		podID string
	}
	deletePodReturns struct {
		result1 error
	}

	PatchEndpointStub        func(context.Context, string, int, int) error
	patchEndpointMutex       sync.RWMutex
	patchEndpointArgsForCall []struct {
		ctx        context.Context
		endpointID string
		minWorkers int
		maxWorkers int
	}
	patchEndpointReturns struct {
		result1 error
	}
}

var _ provider.Client = new(FakeClient)

func (fake *FakeClient) CreatePod(ctx context.Context, name string, gpuType types.GPUType, volumeID string) (string, error) {
	fake.createPodMutex.Lock()
	defer fake.createPodMutex.Unlock()
	fake.createPodArgsForCall = append(fake.createPodArgsForCall, struct {
		ctx      context.Context
		name     string
		gpuType  types.GPUType
		volumeID string
	}{ctx, name, gpuType, volumeID})
	if fake.CreatePodStub != nil {
		return fake.CreatePodStub(ctx, name, gpuType, volumeID)
	}
	return fake.createPodReturns.result1, fake.createPodReturns.result2
}

func (fake *FakeClient) CreatePodCallCount() int {
	fake.createPodMutex.RLock()
	defer fake.createPodMutex.RUnlock()
	return len(fake.createPodArgsForCall)
}

func (fake *FakeClient) CreatePodArgsForCall(i int) (context.Context, string, types.GPUType, string) {
	fake.createPodMutex.RLock()
	defer fake.createPodMutex.RUnlock()
	a := fake.createPodArgsForCall[i]
	return a.ctx, a.name, a.gpuType, a.volumeID
}

func (fake *FakeClient) CreatePodReturns(result1 string, result2 error) {
	fake.CreatePodStub = nil
	fake.createPodReturns = struct {
		result1 string
		result2 error
	}{result1, result2}
}

func (fake *FakeClient) GetPodInfo(ctx context.Context, podID string) (types.PodInfo, error) {
	fake.getPodInfoMutex.Lock()
	fake.getPodInfoArgsForCall = append(fake.getPodInfoArgsForCall, struct {
		ctx   context.Context
		podID string
	}{ctx, podID})
	stub := fake.GetPodInfoStub
	fakeReturns := fake.getPodInfoReturns
	fake.getPodInfoMutex.Unlock()
	if stub != nil {
		return stub(ctx, podID)
	}
	return fakeReturns.result1, fakeReturns.result2
}

func (fake *FakeClient) GetPodInfoCallCount() int {
	fake.getPodInfoMutex.RLock()
	defer fake.getPodInfoMutex.RUnlock()
	return len(fake.getPodInfoArgsForCall)
}

func (fake *FakeClient) GetPodInfoReturns(result1 types.PodInfo, result2 error) {
	fake.GetPodInfoStub = nil
	fake.getPodInfoReturns = struct {
		result1 types.PodInfo
		result2 error
	}{result1, result2}
}

func (fake *FakeClient) GetPodInfoReturnsOnCall(i int, result1 types.PodInfo, result2 error) {
	fake.GetPodInfoStub = func(context.Context, string) (types.PodInfo, error) {
		if fake.GetPodInfoCallCount() == i+1 {
			return result1, result2
		}
		return fake.getPodInfoReturns.result1, fake.getPodInfoReturns.result2
	}
}

func (fake *FakeClient) DeletePod(ctx context.Context, podID string) error {
	fake.deletePodMutex.Lock()
	defer fake.deletePodMutex.Unlock()
	fake.deletePodArgsForCall = append(fake.deletePodArgsForCall, struct {
		ctx   context.Context
		podID string
	}{ctx, podID})
	if fake.DeletePodStub != nil {
		return fake.DeletePodStub(ctx, podID)
	}
	return fake.deletePodReturns.result1
}

func (fake *FakeClient) DeletePodCallCount() int {
	fake.deletePodMutex.RLock()
	defer fake.deletePodMutex.RUnlock()
	return len(fake.deletePodArgsForCall)
}

func (fake *FakeClient) DeletePodArgsForCall(i int) (context.Context, string) {
	fake.deletePodMutex.RLock()
	defer fake.deletePodMutex.RUnlock()
	a := fake.deletePodArgsForCall[i]
	return a.ctx, a.podID
}

func (fake *FakeClient) DeletePodReturns(result1 error) {
	fake.DeletePodStub = nil
	fake.deletePodReturns = struct{ result1 error }{result1}
}

func (fake *FakeClient) PatchEndpoint(ctx context.Context, endpointID string, minWorkers, maxWorkers int) error {
	fake.patchEndpointMutex.Lock()
	defer fake.patchEndpointMutex.Unlock()
	fake.patchEndpointArgsForCall = append(fake.patchEndpointArgsForCall, struct {
		ctx        context.Context
		endpointID string
		minWorkers int
		maxWorkers int
	}{ctx, endpointID, minWorkers, maxWorkers})
	if fake.PatchEndpointStub != nil {
		return fake.PatchEndpointStub(ctx, endpointID, minWorkers, maxWorkers)
	}
	return fake.patchEndpointReturns.result1
}

func (fake *FakeClient) PatchEndpointCallCount() int {
	fake.patchEndpointMutex.RLock()
	defer fake.patchEndpointMutex.RUnlock()
	return len(fake.patchEndpointArgsForCall)
}

func (fake *FakeClient) PatchEndpointReturns(result1 error) {
	fake.PatchEndpointStub = nil
	fake.patchEndpointReturns = struct{ result1 error }{result1}
}

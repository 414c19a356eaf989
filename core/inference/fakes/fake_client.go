package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/forgecloud/podscaler/core/inference"
	"github.com/forgecloud/podscaler/core/types"
)

// FakeClient is a hand-maintained stand-in for a counterfeiter-generated
// inference.Client fake (see core/provider/fakes for why this is
// hand-written rather than go:generate'd).
type FakeClient struct {
	PromptStub        func(context.Context, types.PodInfo, types.Prompt, bool, int, time.Duration) ([]byte, error)
	promptMutex       sync.RWMutex
	promptArgsForCall []struct {
		ctx          context.Context
		info         types.PodInfo
		p            types.Prompt
		isWarmup     bool
		retries      int
		pollInterval time.Duration
	}
	promptReturns struct {
		result1 []byte
		result2 error
	}
}

var _ inference.Client = new(FakeClient)

func (fake *FakeClient) Prompt(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) ([]byte, error) {
	fake.promptMutex.Lock()
	fake.promptArgsForCall = append(fake.promptArgsForCall, struct {
		ctx          context.Context
		info         types.PodInfo
		p            types.Prompt
		isWarmup     bool
		retries      int
		pollInterval time.Duration
	}{ctx, info, p, isWarmup, retries, pollInterval})
	stub := fake.PromptStub
	fakeReturns := fake.promptReturns
	fake.promptMutex.Unlock()
	if stub != nil {
		return stub(ctx, info, p, isWarmup, retries, pollInterval)
	}
	return fakeReturns.result1, fakeReturns.result2
}

func (fake *FakeClient) PromptCallCount() int {
	fake.promptMutex.RLock()
	defer fake.promptMutex.RUnlock()
	return len(fake.promptArgsForCall)
}

func (fake *FakeClient) PromptArgsForCall(i int) (context.Context, types.PodInfo, types.Prompt, bool, int, time.Duration) {
	fake.promptMutex.RLock()
	defer fake.promptMutex.RUnlock()
	a := fake.promptArgsForCall[i]
	return a.ctx, a.info, a.p, a.isWarmup, a.retries, a.pollInterval
}

func (fake *FakeClient) PromptReturns(result1 []byte, result2 error) {
	fake.PromptStub = nil
	fake.promptReturns = struct {
		result1 []byte
		result2 error
	}{result1, result2}
}

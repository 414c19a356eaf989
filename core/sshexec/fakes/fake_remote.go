package fakes

import (
	"context"
	"sync"

	"github.com/forgecloud/podscaler/core/sshexec"
)

type FakeRemote struct {
	RunStub        func(context.Context, string, int, string) (sshexec.Result, error)
	runMutex       sync.RWMutex
	runArgsForCall []struct {
		ctx  context.Context
		host string
		port int
		cmd  string
	}
	runReturns struct {
		result1 sshexec.Result
		result2 error
	}
}

var _ sshexec.Remote = new(FakeRemote)

func (fake *FakeRemote) Run(ctx context.Context, host string, port int, cmd string) (sshexec.Result, error) {
	fake.runMutex.Lock()
	defer fake.runMutex.Unlock()
	fake.runArgsForCall = append(fake.runArgsForCall, struct {
		ctx  context.Context
		host string
		port int
		cmd  string
	}{ctx, host, port, cmd})
	if fake.RunStub != nil {
		return fake.RunStub(ctx, host, port, cmd)
	}
	return fake.runReturns.result1, fake.runReturns.result2
}

func (fake *FakeRemote) RunCallCount() int {
	fake.runMutex.RLock()
	defer fake.runMutex.RUnlock()
	return len(fake.runArgsForCall)
}

func (fake *FakeRemote) RunArgsForCall(i int) (context.Context, string, int, string) {
	fake.runMutex.RLock()
	defer fake.runMutex.RUnlock()
	a := fake.runArgsForCall[i]
	return a.ctx, a.host, a.port, a.cmd
}

func (fake *FakeRemote) RunReturns(result1 sshexec.Result, result2 error) {
	fake.RunStub = nil
	fake.runReturns = struct {
		result1 sshexec.Result
		result2 error
	}{result1, result2}
}

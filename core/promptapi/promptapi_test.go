package promptapi_test

import (
	"context"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forgecloud/podscaler/core/config"
	inferencefakes "github.com/forgecloud/podscaler/core/inference/fakes"
	providerfakes "github.com/forgecloud/podscaler/core/provider/fakes"
	"github.com/forgecloud/podscaler/core/promptapi"
	"github.com/forgecloud/podscaler/core/scheduler"
	sshexecfakes "github.com/forgecloud/podscaler/core/sshexec/fakes"
	"github.com/forgecloud/podscaler/core/types"
)

var _ = Describe("Server", func() {
	var (
		server *promptapi.Server
		ctx    context.Context
	)

	BeforeEach(func() {
		cfg := config.Config{
			OutputDirectory:    "/workspace/output",
			ServerCheckRetries: 5,
			ColdTimeoutRetries: 5,
			TimeoutRetries:     5,
			FreeMaxRemains:     5,
			ServerCheckDelay:   5 * time.Millisecond,
			MinPods:            0,
			MaxPods:            2,
			ScalingSensivity:   50,
			MaxQueueDepth:      0,
			DrainTimeout:       100 * time.Millisecond,
		}

		fakeProvider := &providerfakes.FakeClient{}
		fakeRemote := &sshexecfakes.FakeRemote{}
		fakeInference := &inferencefakes.FakeClient{}

		sched := scheduler.New(cfg, lagertest.NewTestLogger("promptapi"), fakeProvider, fakeInference, fakeRemote, "/workspace/output")
		server = promptapi.New(sched)
		ctx = context.Background()
	})

	It("rejects admission over backpressure without starting the scheduler", func() {
		result := server.QueuePrompt(ctx, types.WorkflowGhibli, "u1")
		Expect(result.OutputState).To(Equal(types.OutputFailed))
		Expect(result.Reason).To(Equal("backpressure"))
	})

	It("reports a stopped snapshot before Start", func() {
		Expect(server.GetState().State).To(Equal(types.SchedulerStopped))
	})

	It("Stop on a never-started scheduler is a no-op", func() {
		server.Stop(ctx)
		Expect(server.GetState().State).To(Equal(types.SchedulerStopped))
	})
})

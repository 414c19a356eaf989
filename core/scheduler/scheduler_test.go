package scheduler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forgecloud/podscaler/core/config"
	inferencefakes "github.com/forgecloud/podscaler/core/inference/fakes"
	providerfakes "github.com/forgecloud/podscaler/core/provider/fakes"
	"github.com/forgecloud/podscaler/core/scheduler"
	sshexecfakes "github.com/forgecloud/podscaler/core/sshexec/fakes"
	"github.com/forgecloud/podscaler/core/types"
)

// localPodInfo returns a PodInfo whose "8188" mapping points at httpSrv,
// so Provisioner.AwaitInferenceHTTP's real GET against
// http://host:port/ succeeds without a fake ComfyUI process.
func localPodInfo(httpSrv *httptest.Server) types.PodInfo {
	u := strings.TrimPrefix(httpSrv.URL, "http://")
	parts := strings.Split(u, ":")
	port, _ := strconv.Atoi(parts[1])
	return types.PodInfo{
		PublicIP:     parts[0],
		PortMappings: types.PortMappings{"8188": port, "22": 2222},
	}
}

func testConfig() config.Config {
	return config.Config{
		OutputDirectory:    "/workspace/output",
		ServerCheckRetries: 60,
		ColdTimeoutRetries: 60,
		TimeoutRetries:     60,
		FreeMaxRemains:     5,
		ServerCheckDelay:   5 * time.Millisecond,
		MinPods:            1,
		MaxPods:            3,
		ScalingSensivity:   50,
		MaxQueueDepth:      2,
		DrainTimeout:       200 * time.Millisecond,
		VolumeIDs:          map[types.VolumeType]string{types.VolumeDefault: "vol-1", types.VolumeEasyControl: "vol-2"},
	}
}

var _ = Describe("Scheduler", func() {
	var (
		fakeProvider  *providerfakes.FakeClient
		fakeRemote    *sshexecfakes.FakeRemote
		fakeInference *inferencefakes.FakeClient
		httpSrv       *httptest.Server
		sched         *scheduler.Scheduler
		ctx           context.Context
		cancel        context.CancelFunc
	)

	BeforeEach(func() {
		httpSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		fakeProvider = &providerfakes.FakeClient{}
		fakeProvider.CreatePodReturns("pod-1", nil)
		fakeProvider.GetPodInfoReturns(localPodInfo(httpSrv), nil)

		fakeRemote = &sshexecfakes.FakeRemote{}
		fakeInference = &inferencefakes.FakeClient{}

		sched = scheduler.New(testConfig(), lagertest.NewTestLogger("scheduler"), fakeProvider, fakeInference, fakeRemote, "/workspace/output")

		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		sched.Stop(context.Background())
		cancel()
		httpSrv.Close()
	})

	Describe("QueuePrompt", func() {
		It("completes a prompt once a pod warms up and processes it", func() {
			fakeInference.PromptStub = func(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) ([]byte, error) {
				if isWarmup {
					return nil, nil
				}
				return []byte{0xFF, 0xD8, 0xFF}, nil
			}

			sched.Start(ctx)

			result := sched.QueuePrompt(ctx, types.WorkflowGhibli, "u1")
			Expect(result.OutputState).To(Equal(types.OutputCompleted))
			Expect(result.Output).To(Equal([]byte{0xFF, 0xD8, 0xFF}))
		})

		It("surfaces an execution failure as a Failed result and keeps the pod usable", func() {
			fakeInference.PromptStub = func(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) ([]byte, error) {
				if isWarmup {
					return nil, nil
				}
				return nil, errExecution("boom")
			}

			sched.Start(ctx)

			result := sched.QueuePrompt(ctx, types.WorkflowGhibli, "u1")
			Expect(result.OutputState).To(Equal(types.OutputFailed))
			Expect(result.Reason).To(Equal("boom"))
			Eventually(func() int { return sched.GetState().PodsByState[types.PodFree] }).Should(BeNumerically(">=", 1))
		})

		It("synthesizes a Failed result when no pod resolves the prompt in time", func() {
			fakeInference.PromptStub = func(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) ([]byte, error) {
				if isWarmup {
					return nil, nil
				}
				<-ctx.Done()
				return nil, ctx.Err()
			}

			sched.Start(ctx)

			result := sched.QueuePrompt(ctx, types.WorkflowGhibli, "u1")
			Expect(result.OutputState).To(Equal(types.OutputFailed))
			Expect(result.Reason).To(Equal("Time out error"))
		})

		It("rejects admission once the queue is at MaxQueueDepth", func() {
			cfg := testConfig()
			cfg.MaxQueueDepth = 0
			blocked := scheduler.New(cfg, lagertest.NewTestLogger("scheduler"), fakeProvider, fakeInference, fakeRemote, "/workspace/output")

			result := blocked.QueuePrompt(ctx, types.WorkflowGhibli, "u1")
			Expect(result.OutputState).To(Equal(types.OutputFailed))
			Expect(result.Reason).To(Equal("backpressure"))
		})
	})

	Describe("pod replacement", func() {
		It("terminates a pod the provider never schedules and provisions a fresh one", func() {
			fakeProvider.GetPodInfoReturns(types.PodInfo{}, nil)

			sched.Start(ctx)

			Eventually(fakeProvider.DeletePodCallCount, "5s").Should(BeNumerically(">=", 1))
			Eventually(fakeProvider.CreatePodCallCount, "5s").Should(BeNumerically(">=", 2))
		})
	})

	Describe("GetState", func() {
		It("reports a Stopped snapshot with empty queues before Start", func() {
			snap := sched.GetState()
			Expect(snap.State).To(Equal(types.SchedulerStopped))
			Expect(snap.QueuedPrompts).To(Equal(0))
		})

		It("reports Running once started", func() {
			sched.Start(ctx)
			Eventually(func() types.SchedulerState { return sched.GetState().State }).Should(Equal(types.SchedulerRunning))
		})
	})

	Describe("Stop", func() {
		It("lets an in-flight prompt finish and deliver during the drain window", func() {
			release := make(chan struct{})
			fakeInference.PromptStub = func(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) ([]byte, error) {
				if isWarmup {
					return nil, nil
				}
				select {
				case <-release:
					return []byte{0xFF, 0xD8, 0xFF}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			sched.Start(ctx)

			results := make(chan types.PromptResult, 1)
			go func() {
				results <- sched.QueuePrompt(ctx, types.WorkflowGhibli, "u1")
			}()
			Eventually(fakeInference.PromptCallCount).Should(BeNumerically(">=", 2))

			go func() {
				time.Sleep(20 * time.Millisecond)
				close(release)
			}()
			sched.Stop(context.Background())

			var result types.PromptResult
			Eventually(results).Should(Receive(&result))
			Expect(result.OutputState).To(Equal(types.OutputCompleted))
			Expect(result.Output).To(Equal([]byte{0xFF, 0xD8, 0xFF}))
		})

		It("tears down provisioned pods and clears state", func() {
			fakeInference.PromptStub = func(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) ([]byte, error) {
				return nil, nil
			}
			sched.Start(ctx)
			Eventually(fakeProvider.CreatePodCallCount).Should(BeNumerically(">=", 1))

			sched.Stop(context.Background())

			snap := sched.GetState()
			Expect(snap.State).To(Equal(types.SchedulerStopped))
			Expect(snap.QueuedPrompts).To(Equal(0))
		})
	})
})

type errExecution string

func (e errExecution) Error() string { return string(e) }

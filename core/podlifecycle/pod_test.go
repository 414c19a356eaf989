package podlifecycle_test

import (
	"github.com/forgecloud/podscaler/core/podlifecycle"
	"github.com/forgecloud/podscaler/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pod", func() {
	It("starts Initializing with a zero tick count", func() {
		p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
		Expect(p.State).To(Equal(types.PodInitializing))
		Expect(p.Count).To(Equal(0))
		Expect(p.Init).To(BeTrue())
	})

	It("resets its tick count on every transition", func() {
		p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
		p.Tick()
		p.Tick()
		Expect(p.Count).To(Equal(2))
		p.Transition(types.PodStarting)
		Expect(p.Count).To(Equal(0))
		Expect(p.State).To(Equal(types.PodStarting))
	})

	Describe("AcceptsPrompt", func() {
		It("accepts a prompt when Free", func() {
			p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
			p.Transition(types.PodFree)
			Expect(p.AcceptsPrompt()).To(BeTrue())
		})

		It("accepts a prompt while Processing its own warm-up", func() {
			p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
			p.Init = true
			p.Transition(types.PodProcessing)
			Expect(p.AcceptsPrompt()).To(BeTrue())
		})

		It("rejects a prompt while Processing a non-warm-up prompt", func() {
			p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
			p.Init = false
			p.Transition(types.PodProcessing)
			Expect(p.AcceptsPrompt()).To(BeFalse())
		})

		It("rejects a prompt while Terminated", func() {
			p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
			p.Transition(types.PodTerminated)
			Expect(p.AcceptsPrompt()).To(BeFalse())
		})
	})

	It("binds and unbinds exactly one prompt at a time", func() {
		p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
		prompt := &types.Prompt{PromptID: "q1"}
		p.Bind(prompt)
		Expect(p.CurrentPrompt).To(Equal(prompt))

		unbound := p.Unbind()
		Expect(unbound).To(Equal(prompt))
		Expect(p.CurrentPrompt).To(BeNil())
	})

	It("clears Init exactly once, never setting it back", func() {
		p := podlifecycle.New(types.GPURTX4090, types.VolumeDefault, types.WorkflowGhibli, "p-1")
		p.Init = true
		p.CompleteWarmup()
		Expect(p.Init).To(BeFalse())
		p.CompleteWarmup()
		Expect(p.Init).To(BeFalse())
	})
})

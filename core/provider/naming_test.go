package provider_test

import (
	"strings"

	"github.com/forgecloud/podscaler/core/provider"
	"github.com/forgecloud/podscaler/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("GeneratePodName", func() {
	It("joins the sanitized workflow, GPU, and a short hex suffix", func() {
		name := provider.GeneratePodName(types.WorkflowGhibli, types.GPURTX4090, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
		Expect(name).To(Equal("ghibli-nvidia-rtx-4090-aaaaaaaa"))
	})

	It("lowercases and strips punctuation from each segment", func() {
		name := provider.GeneratePodName(types.WorkflowMagicVideo, types.GPURTXA6000, "12345678-abcd")
		Expect(name).To(HavePrefix("magicvideo-nvidia-rtx-a6000-"))
		Expect(name).NotTo(ContainSubstring(" "))
	})

	It("truncates the hex suffix to 8 characters", func() {
		name := provider.GeneratePodName(types.WorkflowSnoopy, types.GPURTX4090, "0123456789abcdef")
		suffix := name[strings.LastIndex(name, "-")+1:]
		Expect(suffix).To(HaveLen(8))
		Expect(suffix).To(Equal("01234567"))
	})

	It("never contains consecutive hyphens", func() {
		name := provider.GeneratePodName(types.WorkflowGhibli, types.GPURTX4090, "----abcd1234----")
		Expect(name).NotTo(ContainSubstring("--"))
	})
})

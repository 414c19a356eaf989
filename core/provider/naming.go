package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/forgecloud/podscaler/core/types"
)

// maxPodNameLen matches the provider's own name-length ceiling.
const maxPodNameLen = 63

var (
	nonAlphanumHyphen = regexp.MustCompile(`[^a-z0-9-]`)
	multiHyphen       = regexp.MustCompile(`-{2,}`)
)

// GeneratePodName produces a readable instance name from the workflow
// type, GPU type, and a per-pod nonce: sanitized segments joined by
// hyphens plus a short hex suffix, so `runpodctl` and provider-console
// listings stay legible.
func GeneratePodName(workflowType types.WorkflowType, gpuType types.GPUType, nonce string) string {
	suffix := hexSuffix(nonce)
	wf := sanitizeSegment(string(workflowType), 20)
	gpu := sanitizeSegment(string(gpuType), 20)

	if wf == "" {
		return suffix
	}
	if gpu == "" {
		return fmt.Sprintf("%s-%s", wf, suffix)
	}
	return fmt.Sprintf("%s-%s-%s", wf, gpu, suffix)
}

func sanitizeSegment(s string, maxLen int) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, " ", "-")
	s = nonAlphanumHyphen.ReplaceAllString(s, "")
	s = multiHyphen.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.TrimRight(s, "-")
	return s
}

func hexSuffix(nonce string) string {
	hex := strings.ReplaceAll(nonce, "-", "")
	if len(hex) > 8 {
		return hex[:8]
	}
	return hex
}

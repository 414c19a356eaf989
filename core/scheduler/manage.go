package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// manageLoop sizes the fleet from the demand predictor, run every
// ManagePollInterval.
func (s *Scheduler) manageLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ManagePollInterval())
	defer ticker.Stop()

	// Run once immediately so a freshly started scheduler provisions its
	// MIN_PODS floor right away instead of waiting a full tick.
	s.manageTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.manageTick(ctx)
		}
	}
}

func (s *Scheduler) manageTick(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.manage_tick", nil)
	defer tracing.End(span, nil)

	s.mu.Lock()
	if s.state != types.SchedulerRunning {
		s.mu.Unlock()
		return
	}
	load := len(s.queuedPrompts) + len(s.processingPrompts)
	s.history.push(load)
	target := s.computeTarget()
	s.numPods = target

	gpuDemand := s.gpuDemandLocked()
	deficit := target - len(s.pods)
	s.mu.Unlock()

	if deficit <= 0 {
		return
	}

	gpuType := dominantGPUType(gpuDemand)
	for i := 0; i < deficit; i++ {
		s.spawnPod(gpuType)
	}
}

// computeTarget implements the weighted avg/peak predictor:
// target = round(avg*(1-s) + peak*s), clamped to [MinPods, MaxPods].
// Must be called with s.mu held.
func (s *Scheduler) computeTarget() int {
	sensitivity := float64(s.cfg.ScalingSensivity) / 100
	avg := s.history.avg()
	peak := float64(s.history.peak())

	raw := avg*(1-sensitivity) + peak*sensitivity
	target := int(math.Round(raw))

	if target < s.cfg.MinPods {
		target = s.cfg.MinPods
	}
	if target > s.cfg.MaxPods {
		target = s.cfg.MaxPods
	}
	return target
}

// gpuDemandLocked buckets queued+processing prompts by GPU type,
// recording each bucket's sample into its own history ring so a
// sustained class of demand is visible independent of the overall
// total. Must be called with s.mu held.
func (s *Scheduler) gpuDemandLocked() map[types.GPUType]int {
	counts := make(map[types.GPUType]int)
	for _, p := range s.queuedPrompts {
		counts[p.GPUType]++
	}
	for _, p := range s.processingPrompts {
		counts[p.GPUType]++
	}

	for _, gt := range []types.GPUType{types.GPURTX4090, types.GPURTXA6000} {
		r, ok := s.gpuHistory[gt]
		if !ok {
			r = newRing(historyCapacity)
			s.gpuHistory[gt] = r
		}
		r.push(counts[gt])
	}
	return counts
}

// dominantGPUType picks the GPU class with the most current demand,
// defaulting to the cheaper SKU when the fleet is idle so min-pod
// warm spares don't default to the larger/video-class instance.
func dominantGPUType(counts map[types.GPUType]int) types.GPUType {
	best := types.GPURTX4090
	bestCount := counts[best]
	for gt, c := range counts {
		if c > bestCount {
			best = gt
			bestCount = c
		}
	}
	return best
}

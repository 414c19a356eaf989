// Package metrics exposes OTel instruments for the dispatcher: fleet size
// per pod state, queue depth, prompt outcomes, and pod provisioning
// latency.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	podProvisionDurationHistogram otelmetric.Float64Histogram
	podsByStateGauge              otelmetric.Int64Gauge
	queueDepthGauge               otelmetric.Int64Gauge
	promptOutcomeCounter          otelmetric.Float64Counter
	podsProvisionedCounter        otelmetric.Float64Counter
	podsTerminatedCounter         otelmetric.Float64Counter
)

// Init creates the OTel instruments used by the scheduler and pod
// lifecycle manager. Safe to call once at process startup; instrument
// creation failures are non-fatal (the corresponding Record* call
// becomes a no-op).
func Init() {
	meter := otel.Meter("podscaler")

	if h, err := meter.Float64Histogram(
		"podscaler.pod.provision_duration",
		otelmetric.WithDescription("Time from pod creation request to the pod reaching Free state"),
		otelmetric.WithUnit("s"),
	); err == nil {
		podProvisionDurationHistogram = h
	}

	if g, err := meter.Int64Gauge(
		"podscaler.pods.by_state",
		otelmetric.WithDescription("Number of pods currently in each PodState"),
	); err == nil {
		podsByStateGauge = g
	}

	if g, err := meter.Int64Gauge(
		"podscaler.queue.depth",
		otelmetric.WithDescription("Number of prompts waiting for a free pod"),
	); err == nil {
		queueDepthGauge = g
	}

	if c, err := meter.Float64Counter(
		"podscaler.prompts.outcomes",
		otelmetric.WithDescription("Prompts resolved, tagged by outcome"),
	); err == nil {
		promptOutcomeCounter = c
	}

	if c, err := meter.Float64Counter(
		"podscaler.pods.provisioned",
		otelmetric.WithDescription("Pods provisioned from the remote compute provider"),
	); err == nil {
		podsProvisionedCounter = c
	}

	if c, err := meter.Float64Counter(
		"podscaler.pods.terminated",
		otelmetric.WithDescription("Pods terminated, tagged by reason"),
	); err == nil {
		podsTerminatedCounter = c
	}
}

// RecordPodProvisionDuration records how long a pod took to go from
// creation request to its first Free transition.
func RecordPodProvisionDuration(ctx context.Context, duration time.Duration, gpuType string) {
	if podProvisionDurationHistogram == nil {
		return
	}
	podProvisionDurationHistogram.Record(ctx, duration.Seconds(),
		otelmetric.WithAttributes(attribute.String("gpu.type", gpuType)),
	)
}

// RecordPodsByState sets the current fleet count for one PodState. Called
// once per state per process-loop tick from a snapshot.
func RecordPodsByState(ctx context.Context, state string, count int64) {
	if podsByStateGauge == nil {
		return
	}
	podsByStateGauge.Record(ctx, count, otelmetric.WithAttributes(attribute.String("pod.state", state)))
}

// RecordQueueDepth sets the current queued-prompt count.
func RecordQueueDepth(ctx context.Context, depth int64) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.Record(ctx, depth)
}

// RecordPromptOutcome increments the outcome counter for one resolved
// prompt ("completed", "failed", "timeout", or "backpressure").
func RecordPromptOutcome(ctx context.Context, outcome string) {
	if promptOutcomeCounter == nil {
		return
	}
	promptOutcomeCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPodProvisioned increments the provisioned-pod counter.
func RecordPodProvisioned(ctx context.Context, gpuType string) {
	if podsProvisionedCounter == nil {
		return
	}
	podsProvisionedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("gpu.type", gpuType)))
}

// RecordPodTerminated increments the terminated-pod counter, tagged by
// the reason the state machine decided to tear it down ("deadline",
// "free-oversize", "provider-error", "stop").
func RecordPodTerminated(ctx context.Context, reason string) {
	if podsTerminatedCounter == nil {
		return
	}
	podsTerminatedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

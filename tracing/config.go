package tracing

// Config holds the OTel wiring for trace export. It is held in the
// top-level core/config.Config and flows through to Sampler() and
// TracerProvider(); metrics export is configured by MetricsConfig.
type Config struct {
	Sampling SamplingConfig
}

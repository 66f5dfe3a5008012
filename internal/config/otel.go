package config

// OtelConfig configures trace export. Spans are created regardless; they
// are only exported when ExporterEndpoint is set.
type OtelConfig struct {
	ExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// Insecure sends spans over plain HTTP, as used by a local collector.
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName  string  `env:"OTEL_SERVICE_NAME" envDefault:"tether"`
	SamplingRate float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`
}

func (c OtelConfig) Enabled() bool {
	return c.ExporterEndpoint != ""
}

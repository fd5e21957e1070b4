package telemetry

// OTLP configures the OTLP/HTTP trace exporter.
type OTLP struct {
	// Host is the collector endpoint, host[:port] with no scheme or trailing slash.
	Host string `yaml:"host"`
	// Secure selects HTTPS instead of plaintext HTTP for the OTLP exporter.
	Secure bool `yaml:"secure"`
}

// Config configures tracing for the process.
type Config struct {
	// Package identifies the service in exported spans (e.g. "jicofo").
	Package string `yaml:"package"`
	// ID is the instance identifier attached to every span's resource.
	ID string `yaml:"id"`
	// JaegerURL, if set, exports spans directly to a Jaeger collector.
	JaegerURL string `yaml:"jaegerUrl"`
	// OTLP, if Host is set, exports spans via OTLP/HTTP (preferred over Jaeger).
	OTLP OTLP `yaml:"otlp"`
}

// Enabled reports whether any exporter is configured.
func (c Config) Enabled() bool {
	return c.JaegerURL != "" || c.OTLP.Host != ""
}

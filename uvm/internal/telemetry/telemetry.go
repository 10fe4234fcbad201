package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Meter = metric.Meter

const metricExportInterval = 10 * time.Second

type Config struct {
	ServiceName string `yaml:"serviceName" mapstructure:"serviceName"`
	// ExportMetrics pushes metrics to the OTLP endpoint from the standard OTEL_EXPORTER_OTLP_* variables.
	ExportMetrics bool `yaml:"exportMetrics" mapstructure:"exportMetrics"`
}

func NewDefaultConfig() *Config {
	return &Config{ServiceName: "uvm"}
}

// Init installs the global meter provider. Without export the global noop provider stays in place.
func Init(ctx context.Context, config *Config) error {
	if config == nil || !config.ExportMetrics {
		return nil
	}

	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(config.ServiceName)))
	if err != nil {
		return fmt.Errorf("failed to initialize metric provider: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportInterval))),
		sdkmetric.WithResource(res),
	))
	return nil
}

func Shutdown(ctx context.Context) {
	mp, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	if !ok {
		return
	}
	_ = mp.Shutdown(ctx)
}

func NewMeter(name string) Meter {
	return otel.Meter(name)
}

package validate

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/bzforge/bzfs/internal/validate"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

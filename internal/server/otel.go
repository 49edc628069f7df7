package server

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/bzforge/bzfs/internal/server"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

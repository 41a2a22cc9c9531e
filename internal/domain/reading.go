package domain

import "time"

// Status is the severity tier derived from a temperature.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Provider identifies the vision backend that produced a reading.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderTogether  Provider = "together"
	ProviderMoondream Provider = "moondream"
	ProviderGRPC      Provider = "grpc"

	DefaultProvider = ProviderGemini
)

// Outcome distinguishes a genuine extraction from a simulated free-tier value.
type Outcome string

const (
	OutcomeGenuine   Outcome = "genuine"
	OutcomeSimulated Outcome = "simulated"
)

const (
	warningThreshold  = 30.0
	criticalThreshold = 35.0
)

// Classify maps a temperature in Celsius to its severity tier.
// The upper bound of each lower bracket is inclusive.
func Classify(temperature float64) Status {
	switch {
	case temperature > criticalThreshold:
		return StatusCritical
	case temperature > warningThreshold:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// Reading is a classified temperature. Timestamp is zero until the
// persistence layer stamps it.
type Reading struct {
	Temperature float64
	Status      Status
	Model       Provider
	Timestamp   time.Time
}

// NewReading classifies temperature once; the status is never recomputed.
func NewReading(temperature float64, model Provider) Reading {
	return Reading{
		Temperature: temperature,
		Status:      Classify(temperature),
		Model:       model,
	}
}

// Stamped returns a copy of r carrying the instant normalized to UTC.
func (r Reading) Stamped(at time.Time) Reading {
	r.Timestamp = at.UTC()
	return r
}

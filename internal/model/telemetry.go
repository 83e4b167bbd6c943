package model

// ValveStatus represents the reported state of the inlet valve
type ValveStatus string

const (
	ValveOpen   ValveStatus = "OPEN"
	ValveClosed ValveStatus = "CLOSED"
)

// ValidationStatus represents the soft-compliance outcome of a reading
type ValidationStatus string

const (
	ValidationPass ValidationStatus = "PASS"
	ValidationFail ValidationStatus = "FAIL"
)

// TelemetryPacket is the wire form of one telemetry message as produced by
// the field device. Every sensor field is optional; an absent field means
// the sensor was offline when the packet was assembled. Absent fields are
// never defaulted.
type TelemetryPacket struct {
	Timestamp    *string      `json:"timestamp,omitempty"`
	PH           *float64     `json:"ph,omitempty"`
	TDS          *float64     `json:"tds,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
	FlowRate     *float64     `json:"flow_rate,omitempty"`
	Salinity     *float64     `json:"salinity,omitempty"`
	Conductivity *float64     `json:"conductivity,omitempty"`
	Current      *float64     `json:"current,omitempty"`
	Voltage      *float64     `json:"voltage,omitempty"`
	Power        *float64     `json:"power,omitempty"`
	ValveStatus  *ValveStatus `json:"valve_status,omitempty"`
}

// Validation carries the soft-compliance result attached at acceptance time.
// Status is FAIL exactly when FailedParameters is non-empty.
type Validation struct {
	Status           ValidationStatus `json:"status"`
	FailedParameters []string         `json:"failed_parameters"`
}

// ValidatedReading is a TelemetryPacket that passed validation, enriched
// with its soft-compliance block. Constructed once by the validator and
// never mutated afterwards.
type ValidatedReading struct {
	TelemetryPacket
	Validation Validation `json:"validation"`
}

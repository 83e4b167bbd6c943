package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aquameter/telemetry-hub/internal/model"
)

// Reject reason codes, used as log fields and metric labels.
const (
	ReasonShape            = "shape"
	ReasonMissingTimestamp = "missing_timestamp"
	ReasonBounds           = "bounds"
	ReasonBadTimestamp     = "bad_timestamp"
	ReasonStale            = "stale"
	ReasonFuture           = "future"
)

// DefaultMaxLatency bounds how far a packet timestamp may drift from the
// ingestion clock, in either direction, before the packet is dropped.
const DefaultMaxLatency = 5000 * time.Millisecond

// RejectError describes why a packet was rejected. Timestamp carries the
// packet's claimed timestamp when one was present, for log context.
type RejectError struct {
	Code      string
	Reason    string
	Timestamp string
}

func (e *RejectError) Error() string {
	return e.Reason
}

// Validator applies the hard physical/format checks and the soft
// operating-range compliance rules to raw telemetry packets. It holds no
// state and performs no I/O.
type Validator struct {
	maxLatency time.Duration
}

// New creates a validator with the given freshness window. A zero or
// negative window falls back to DefaultMaxLatency.
func New(maxLatency time.Duration) *Validator {
	if maxLatency <= 0 {
		maxLatency = DefaultMaxLatency
	}
	return &Validator{maxLatency: maxLatency}
}

// Validate checks one raw packet against the hard bounds and freshness
// window, then attaches the soft-compliance block. On rejection the
// returned error is a *RejectError.
func (v *Validator) Validate(raw []byte, now time.Time) (*model.ValidatedReading, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &RejectError{Code: ReasonShape, Reason: "packet must be a JSON object"}
	}

	var pkt model.TelemetryPacket
	if err := json.Unmarshal(trimmed, &pkt); err != nil {
		return nil, &RejectError{Code: ReasonShape, Reason: fmt.Sprintf("malformed packet: %v", err)}
	}

	if pkt.Timestamp == nil {
		return nil, &RejectError{Code: ReasonMissingTimestamp, Reason: "missing required field: timestamp"}
	}
	claimed := *pkt.Timestamp

	if err := checkBounds(&pkt); err != nil {
		err.Timestamp = claimed
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339, claimed)
	if err != nil {
		return nil, &RejectError{Code: ReasonBadTimestamp, Reason: fmt.Sprintf("invalid timestamp format: %q", claimed), Timestamp: claimed}
	}

	latency := now.Sub(ts)
	if latency > v.maxLatency {
		return nil, &RejectError{
			Code:      ReasonStale,
			Reason:    fmt.Sprintf("stale packet: latency %s exceeds %s", latency, v.maxLatency),
			Timestamp: claimed,
		}
	}
	if latency < -v.maxLatency {
		return nil, &RejectError{
			Code:      ReasonFuture,
			Reason:    fmt.Sprintf("future-dated packet: timestamp is %s ahead", -latency),
			Timestamp: claimed,
		}
	}

	return &model.ValidatedReading{
		TelemetryPacket: pkt,
		Validation:      softCompliance(&pkt),
	}, nil
}

// checkBounds applies the per-field physical bounds. Absent fields are
// skipped; any violation rejects the packet outright.
func checkBounds(pkt *model.TelemetryPacket) *RejectError {
	if pkt.PH != nil {
		if !isFinite(*pkt.PH) || *pkt.PH < 0 || *pkt.PH > 14 {
			return boundsErr("ph", *pkt.PH, "must be in [0, 14]")
		}
	}

	nonNegative := []struct {
		name  string
		value *float64
	}{
		{"tds", pkt.TDS},
		{"temperature", pkt.Temperature},
		{"flow_rate", pkt.FlowRate},
		{"salinity", pkt.Salinity},
		{"conductivity", pkt.Conductivity},
	}
	for _, f := range nonNegative {
		if f.value == nil {
			continue
		}
		if !isFinite(*f.value) || *f.value < 0 {
			return boundsErr(f.name, *f.value, "must be >= 0")
		}
	}

	if pkt.Voltage != nil {
		if !isFinite(*pkt.Voltage) || *pkt.Voltage < -50 || *pkt.Voltage > 50 {
			return boundsErr("voltage", *pkt.Voltage, "must be in [-50, 50]")
		}
	}
	if pkt.Current != nil && !isFinite(*pkt.Current) {
		return boundsErr("current", *pkt.Current, "must be a finite number")
	}
	if pkt.Power != nil && !isFinite(*pkt.Power) {
		return boundsErr("power", *pkt.Power, "must be a finite number")
	}

	if pkt.ValveStatus != nil {
		if *pkt.ValveStatus != model.ValveOpen && *pkt.ValveStatus != model.ValveClosed {
			return &RejectError{
				Code:   ReasonBounds,
				Reason: fmt.Sprintf("invalid valve_status %q: must be OPEN or CLOSED", *pkt.ValveStatus),
			}
		}
	}

	return nil
}

// softCompliance evaluates the engineering operating-range rules. These
// never reject; violations are flagged into failed_parameters, and only for
// fields present in the packet.
func softCompliance(pkt *model.TelemetryPacket) model.Validation {
	failed := []string{}

	if pkt.PH != nil && (*pkt.PH < 6.5 || *pkt.PH > 8.5) {
		failed = append(failed, "ph")
	}
	if pkt.TDS != nil && *pkt.TDS > 5000 {
		failed = append(failed, "tds")
	}

	status := model.ValidationPass
	if len(failed) > 0 {
		status = model.ValidationFail
	}
	return model.Validation{Status: status, FailedParameters: failed}
}

func boundsErr(field string, value float64, bound string) *RejectError {
	return &RejectError{
		Code:   ReasonBounds,
		Reason: fmt.Sprintf("field %s out of range: %v %s", field, value, bound),
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

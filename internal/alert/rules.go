package alert

import (
	"fmt"

	"github.com/aquameter/telemetry-hub/internal/config"
	"github.com/aquameter/telemetry-hub/internal/model"
)

// Outcome is the ternary result of evaluating one rule against a reading.
// Skip means the bound sensor field was absent; prior alert state is left
// untouched.
type Outcome int

const (
	OutcomeSkip Outcome = iota
	OutcomeFire
	OutcomeClear
)

// Rule binds one sensor to a severity, a human-readable threshold
// description, a ternary predicate, and a message template. Exactly one
// rule exists per sensor so that a clear sweep cannot stomp a sibling
// rule's alert for the same sensor.
type Rule struct {
	Sensor    string
	Severity  model.AlertSeverity
	Threshold string
	Eval      func(reading *model.ValidatedReading) (float64, Outcome)
	Message   func(value float64) string
}

// ruleOrder fixes the evaluation order of the rule table.
var ruleOrder = []string{
	"ph", "tds", "temperature", "flow_rate", "salinity",
	"conductivity", "current", "voltage", "power",
}

var ruleSeverities = map[string]model.AlertSeverity{
	"ph":           model.AlertSeverityWarning,
	"tds":          model.AlertSeverityWarning,
	"temperature":  model.AlertSeverityCritical,
	"flow_rate":    model.AlertSeverityWarning,
	"salinity":     model.AlertSeverityWarning,
	"conductivity": model.AlertSeverityWarning,
	"current":      model.AlertSeverityWarning,
	"voltage":      model.AlertSeverityCritical,
	"power":        model.AlertSeverityInfo,
}

var sensorFields = map[string]func(*model.ValidatedReading) *float64{
	"ph":           func(r *model.ValidatedReading) *float64 { return r.PH },
	"tds":          func(r *model.ValidatedReading) *float64 { return r.TDS },
	"temperature":  func(r *model.ValidatedReading) *float64 { return r.Temperature },
	"flow_rate":    func(r *model.ValidatedReading) *float64 { return r.FlowRate },
	"salinity":     func(r *model.ValidatedReading) *float64 { return r.Salinity },
	"conductivity": func(r *model.ValidatedReading) *float64 { return r.Conductivity },
	"current":      func(r *model.ValidatedReading) *float64 { return r.Current },
	"voltage":      func(r *model.ValidatedReading) *float64 { return r.Voltage },
	"power":        func(r *model.ValidatedReading) *float64 { return r.Power },
}

// BuildRules constructs the ordered rule table from the configured
// per-sensor operating bounds. Sensors without configured bounds get no
// rule; adding a sensor is a pure configuration change.
func BuildRules(cfg config.AlertsConfig) []Rule {
	var rules []Rule
	for _, sensor := range ruleOrder {
		bounds, ok := cfg.Thresholds[sensor]
		if !ok || (bounds.Min == nil && bounds.Max == nil) {
			continue
		}

		field := sensorFields[sensor]
		severity, ok := ruleSeverities[sensor]
		if !ok {
			severity = model.AlertSeverityWarning
		}

		sensor := sensor
		threshold := describeBounds(bounds)
		rules = append(rules, Rule{
			Sensor:    sensor,
			Severity:  severity,
			Threshold: threshold,
			Eval: func(reading *model.ValidatedReading) (float64, Outcome) {
				return boundsOutcome(field(reading), bounds)
			},
			Message: func(value float64) string {
				return fmt.Sprintf("%s out of operating range: %.2f (allowed %s)", sensor, value, threshold)
			},
		})
	}
	return rules
}

// boundsOutcome evaluates one optional value against its bounds. An absent
// value skips the rule entirely.
func boundsOutcome(value *float64, bounds config.Bounds) (float64, Outcome) {
	if value == nil {
		return 0, OutcomeSkip
	}
	if bounds.Min != nil && *value < *bounds.Min {
		return *value, OutcomeFire
	}
	if bounds.Max != nil && *value > *bounds.Max {
		return *value, OutcomeFire
	}
	return *value, OutcomeClear
}

func describeBounds(bounds config.Bounds) string {
	switch {
	case bounds.Min != nil && bounds.Max != nil:
		return fmt.Sprintf("%g - %g", *bounds.Min, *bounds.Max)
	case bounds.Min != nil:
		return fmt.Sprintf(">= %g", *bounds.Min)
	case bounds.Max != nil:
		return fmt.Sprintf("<= %g", *bounds.Max)
	default:
		return "unbounded"
	}
}

package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertStatus represents the lifecycle state of an alert record
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// DeviceSensor is the pseudo-sensor name used for device-liveness alerts.
const DeviceSensor = "device"

// AlertRecord is one durable alert. At most one record per
// (sensor, severity) pair may be in a non-resolved status at any time.
// Records transition to resolved and are never deleted.
type AlertRecord struct {
	ID         string        `json:"id"`
	Severity   AlertSeverity `json:"severity"`
	Sensor     string        `json:"sensor"`
	Message    string        `json:"message"`
	Value      *float64      `json:"value,omitempty"`
	Threshold  string        `json:"threshold"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     AlertStatus   `json:"status"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

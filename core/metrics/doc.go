// Package metrics defines the sink interfaces used to record completed legs
// and ghost detections. Implementations live in infra/metrics.
package metrics

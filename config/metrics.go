package config

import "fmt"

// MetricsConfig selects the sinks completed legs and ghosts are recorded in.
type MetricsConfig struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.PrometheusEnabled && c.PrometheusPort == "" {
		c.PrometheusPort = "9091"
	}
}

func (c MetricsConfig) Validate() error {
	if c.InfluxURL != "" && (c.InfluxOrg == "" || c.InfluxBucket == "") {
		return fmt.Errorf("influx_org and influx_bucket are required with influx_url")
	}
	return nil
}

// InfluxEnabled reports whether an InfluxDB sink is configured.
func (c MetricsConfig) InfluxEnabled() bool { return c.InfluxURL != "" }

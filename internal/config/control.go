package config

// ControlConfig bounds the session runtime's control-channel writer,
// policy-decision timing, and per-stream capture (spec §4.7 option table).
type ControlConfig struct {
	FailMode                   string `yaml:"fail_mode"`
	DecisionTimeoutMs          int    `yaml:"decision_timeout_ms"`
	AbortGraceMs               int    `yaml:"abort_grace_ms"`
	TickIntervalMs             int    `yaml:"tick_interval_ms"`
	LineTapChannelCapacity     int    `yaml:"line_tap_channel_capacity"`
	ControlChannelCapacity     int    `yaml:"control_channel_capacity"`
	ControlWriterErrorCapacity int    `yaml:"control_writer_error_capacity"`
	CaptureBytes               int    `yaml:"capture_bytes"`
}

// DefaultControlConfig matches the reference option defaults.
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		FailMode:                   "closed",
		DecisionTimeoutMs:          30_000,
		AbortGraceMs:               2_000,
		TickIntervalMs:             500,
		LineTapChannelCapacity:     256,
		ControlChannelCapacity:     32,
		ControlWriterErrorCapacity: 1,
		CaptureBytes:               65536,
	}
}

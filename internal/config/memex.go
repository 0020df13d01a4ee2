package config

// MemexConfig groups the run-engine-specific settings layered on top of
// the teacher's ambient config surface: memory retrieval, gatekeeper
// thresholds, the policy/control option table, and backend defaults.
type MemexConfig struct {
	Memory      MemexMemoryConfig `yaml:"memory"`
	Gatekeeper  GatekeeperConfig  `yaml:"gatekeeper"`
	Control     ControlConfig     `yaml:"control"`
	Backend     BackendConfig     `yaml:"backend"`
	Executor    ExecutorConfig    `yaml:"executor"`
	StateStore  StateStoreConfig  `yaml:"state_store"`
}

// StateStoreConfig optionally backs statemgr's durable Store with a real
// `database/sql` driver instead of the in-memory default. Driver selects
// which driver package gets registered; DSN is passed to sql.Open as-is.
type StateStoreConfig struct {
	Driver string `yaml:"driver"` // "", "sqlite3", "sqlite" (pure-Go), or "postgres"
	DSN    string `yaml:"dsn"`
}

// MemexMemoryConfig configures the pre-run memory retrieval call (spec
// §4.9/§4.10): where to search, and how to bound the blast radius of a
// slow or failing memory service on the run's own latency.
type MemexMemoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Limit     int    `yaml:"limit"`
	MinScore  float64 `yaml:"min_score"`
}

// GatekeeperConfig tunes the inject-selection pass (C9): how many
// retrieved matches make it into the merged prompt and where.
type GatekeeperConfig struct {
	MaxInject     int    `yaml:"max_inject"`
	MinScore      float64 `yaml:"min_score"`
	Placement     string `yaml:"placement"` // "system" or "user"
	SizeFloor     int    `yaml:"size_floor"`
	SizeCeiling   int    `yaml:"size_ceiling"`
	Redact        bool   `yaml:"redact"`
}

// BackendConfig picks the default backend strategy/binary when a caller
// doesn't resolve one explicitly per run.
type BackendConfig struct {
	Kind    string `yaml:"kind"` // "codecli" or "aiservice"
	Binary  string `yaml:"binary"`
	Workdir string `yaml:"workdir"`
}

// ExecutorConfig tunes the DAG executor (C13): concurrency ceiling and
// retry defaults applied when a task doesn't specify its own.
type ExecutorConfig struct {
	MaxConcurrency   int    `yaml:"max_concurrency"`
	DefaultRetry     string `yaml:"default_retry"`
	ConcurrencyMode  string `yaml:"concurrency_mode"` // "fixed" or "adaptive"
}

func applyMemexDefaults(cfg *MemexConfig) {
	if cfg.Memory.TimeoutMs <= 0 {
		cfg.Memory.TimeoutMs = 2_000
	}
	if cfg.Memory.Limit <= 0 {
		cfg.Memory.Limit = 10
	}
	if cfg.Gatekeeper.MaxInject <= 0 {
		cfg.Gatekeeper.MaxInject = 5
	}
	if cfg.Gatekeeper.Placement == "" {
		cfg.Gatekeeper.Placement = "system"
	}
	if cfg.Gatekeeper.SizeFloor <= 0 {
		cfg.Gatekeeper.SizeFloor = 16
	}
	if cfg.Gatekeeper.SizeCeiling <= 0 {
		cfg.Gatekeeper.SizeCeiling = 4096
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = "codecli"
	}
	if cfg.Executor.MaxConcurrency <= 0 {
		cfg.Executor.MaxConcurrency = 4
	}
	if cfg.Executor.ConcurrencyMode == "" {
		cfg.Executor.ConcurrencyMode = "adaptive"
	}

	zero := ControlConfig{}
	if cfg.Control == zero {
		cfg.Control = DefaultControlConfig()
	}
}

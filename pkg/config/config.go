// Package config loads the coordinator's YAML configuration.
package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
	"github.com/ravi-parthasarathy/stagecoord/pkg/topology"
)

// Defaults.
const (
	DefaultListen        = ":50051"
	DefaultReapInterval  = time.Minute
	DefaultReapRetention = 10 * time.Minute
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the coordinator configuration file.
type Config struct {
	// Listen is the gRPC listen address.
	Listen string `json:"listen"`
	// MetricsListen serves Prometheus /metrics when non-empty.
	MetricsListen string `json:"metricsListen,omitempty"`
	// StateFile persists the task registry across restarts when non-empty.
	StateFile string `json:"stateFile,omitempty"`

	Housekeeping Housekeeping `json:"housekeeping"`
	Topology     Topology     `json:"topology"`

	// StageArgs are injected into inform-current replies, keyed by stage name.
	// Values are strings: quote numbers and booleans ("1", "true").
	StageArgs map[string]argmap.Map `json:"stageArgs,omitempty"`

	Log Log `json:"log"`
}

// Housekeeping controls reaping of stopped tasks.
type Housekeeping struct {
	Interval  Duration `json:"interval"`
	Retention Duration `json:"retention"`
	Disabled  bool     `json:"disabled,omitempty"`
}

// Topology names the pipeline's stages, inline or via a DOT file.
type Topology struct {
	Name    string   `json:"name,omitempty"`
	Stages  []string `json:"stages,omitempty"`
	DOTFile string   `json:"dotFile,omitempty"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		Housekeeping: Housekeeping{
			Interval:  Duration(DefaultReapInterval),
			Retention: Duration(DefaultReapRetention),
		},
		Log: Log{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Load reads path over the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := checkStageArgs(data); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Topology.DOTFile != "" && !filepath.IsAbs(cfg.Topology.DOTFile) {
		cfg.Topology.DOTFile = filepath.Join(filepath.Dir(path), cfg.Topology.DOTFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkStageArgs names the first stageArgs value that is not a string.
// Malformed documents are left for the strict decode to report.
func checkStageArgs(data []byte) error {
	var raw struct {
		StageArgs map[string]map[string]any `json:"stageArgs"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for _, stage := range slices.Sorted(maps.Keys(raw.StageArgs)) {
		args := raw.StageArgs[stage]
		for _, key := range slices.Sorted(maps.Keys(args)) {
			if v := args[key]; v != nil {
				if _, ok := v.(string); !ok {
					return fmt.Errorf("stageArgs.%s.%s: value %v must be a quoted string", stage, key, v)
				}
			}
		}
	}
	return nil
}

// Validate checks field values and returns all problems found.
func (c *Config) Validate() error {
	var problems []string
	if c.Listen == "" {
		problems = append(problems, "listen must not be empty")
	}
	if !c.Housekeeping.Disabled {
		if c.Housekeeping.Interval <= 0 {
			problems = append(problems, "housekeeping.interval must be positive")
		}
		if c.Housekeeping.Retention < 0 {
			problems = append(problems, "housekeeping.retention must not be negative")
		}
	}
	if len(c.Topology.Stages) > 0 && c.Topology.DOTFile != "" {
		problems = append(problems, "topology: set either stages or dotFile, not both")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q: use debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q: use text or json", c.Log.Format))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config:\n  %s", strings.Join(problems, "\n  "))
}

// LoadTopology returns the configured pipeline, or nil if none is configured.
func (c *Config) LoadTopology() (*topology.Topology, error) {
	switch {
	case c.Topology.DOTFile != "":
		src, err := os.ReadFile(c.Topology.DOTFile)
		if err != nil {
			return nil, fmt.Errorf("read topology: %w", err)
		}
		t, err := topology.ParseDOT(string(src))
		if err != nil {
			return nil, fmt.Errorf("parse topology %s: %w", c.Topology.DOTFile, err)
		}
		if c.Topology.Name != "" {
			t.Name = c.Topology.Name
		}
		return t, nil
	case len(c.Topology.Stages) > 0:
		return topology.New(c.Topology.Name, c.Topology.Stages)
	default:
		return nil, nil
	}
}

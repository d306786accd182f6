package config

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Defaults is the persisted configuration record applied to every new session.
// It is loaded once at process start and treated as read-only afterwards.
type Defaults struct {
	Image       string            `yaml:"image"`
	WorkingDir  string            `yaml:"working_dir"`
	Environment map[string]string `yaml:"environment"`
	MemoryLimit string            `yaml:"memory_limit"`
	AutoCommit  bool              `yaml:"auto_commit"`
	AgentFlags  []string          `yaml:"agent_flags"`
}

// BuiltinDefaults returns the defaults used when no defaults file is configured.
func BuiltinDefaults() Defaults {
	return Defaults{
		Image:      "python:3.11-slim",
		WorkingDir: "/workspace",
		Environment: map[string]string{
			"PYTHONPATH": "/workspace",
			"TERM":       "xterm-256color",
		},
		AutoCommit: true,
		AgentFlags: []string{"--dangerously-skip-permissions"},
	}
}

// LoadDefaults reads the defaults record from path, falling back to built-ins
// for any field left unset. A missing file is not an error.
func LoadDefaults(path string) (Defaults, error) {
	d := BuiltinDefaults()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, fmt.Errorf("read defaults file: %w", err)
	}

	// AutoCommit is a pointer here so an absent key keeps the built-in value.
	var loaded struct {
		Image       string            `yaml:"image"`
		WorkingDir  string            `yaml:"working_dir"`
		Environment map[string]string `yaml:"environment"`
		MemoryLimit string            `yaml:"memory_limit"`
		AutoCommit  *bool             `yaml:"auto_commit"`
		AgentFlags  []string          `yaml:"agent_flags"`
	}
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return d, fmt.Errorf("parse defaults file: %w", err)
	}

	if loaded.Image != "" {
		d.Image = loaded.Image
	}
	if loaded.WorkingDir != "" {
		d.WorkingDir = loaded.WorkingDir
	}
	for k, v := range loaded.Environment {
		d.Environment[k] = v
	}
	if loaded.MemoryLimit != "" {
		if _, err := units.RAMInBytes(loaded.MemoryLimit); err != nil {
			return d, fmt.Errorf("invalid memory_limit %q: %w", loaded.MemoryLimit, err)
		}
		d.MemoryLimit = loaded.MemoryLimit
	}
	if loaded.AgentFlags != nil {
		d.AgentFlags = loaded.AgentFlags
	}
	if loaded.AutoCommit != nil {
		d.AutoCommit = *loaded.AutoCommit
	}

	return d, nil
}

// MemoryLimitBytes parses the configured memory limit. Zero means no limit.
func (d Defaults) MemoryLimitBytes() int64 {
	if d.MemoryLimit == "" {
		return 0
	}
	n, err := units.RAMInBytes(d.MemoryLimit)
	if err != nil {
		return 0
	}
	return n
}

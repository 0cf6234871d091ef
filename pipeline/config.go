package pipeline

import (
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"

	"gopkg.in/yaml.v2"
)

// Config contains the parameters for a Pipeline
type Config struct {
	CIn                 int    `yaml:"cIn,omitempty"`
	COut                int    `yaml:"cOut,omitempty"`
	Workers             int    `yaml:"workers,omitempty"`
	Policy              string `yaml:"policy,omitempty"`
	OutputPolicy        string `yaml:"outputPolicy,omitempty"`
	BlockTimeoutMs      int    `yaml:"blockTimeoutMs,omitempty"`
	HoldFailed          bool   `yaml:"holdFailed,omitempty"`
	HoldTimeoutMs       int    `yaml:"holdTimeoutMs,omitempty"`
	AutoPolicy          bool   `yaml:"autoPolicy,omitempty"`
	NotifyBuffer        int    `yaml:"notifyBuffer,omitempty"`
	ResidencyIdleMicros int    `yaml:"residencyIdleMicros,omitempty"`
	ResidencyHighMs     int    `yaml:"residencyHighMs,omitempty"`
	MaxCaptureFps       int    `yaml:"maxCaptureFps,omitempty"`
	TransientRetryMs    int    `yaml:"transientRetryMs,omitempty"`
}

// NewConfig creates a new Config from a yaml file
func NewConfig(configPath string) *Config {
	c := &Config{}
	yamlFile, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("yamlFile.Get err   #%v ", err)
		return nil
	}
	err = yaml.Unmarshal(yamlFile, c)
	if err != nil {
		log.Printf("Unmarshal: %v", err)
		return nil
	}
	return c
}

// withDefaults fills unset fields with working defaults
func (c Config) withDefaults() Config {
	if c.CIn <= 0 {
		c.CIn = 8
	}
	if c.COut <= 0 {
		c.COut = 8
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.HoldTimeoutMs <= 0 {
		c.HoldTimeoutMs = 250
	}
	if c.NotifyBuffer <= 0 {
		c.NotifyBuffer = 64
	}
	if c.ResidencyIdleMicros <= 0 {
		c.ResidencyIdleMicros = 5000
	}
	if c.ResidencyHighMs <= 0 {
		c.ResidencyHighMs = 250
	}
	if c.TransientRetryMs <= 0 {
		c.TransientRetryMs = 50
	}
	return c
}

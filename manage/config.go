// manage package

package manage

import (
	"os"

	log "github.com/sirupsen/logrus"

	"gopkg.in/yaml.v2"

	"github.com/jonoton/percept/pipeline"
)

// Config Constants
var (
	ConfigFilename = "manage.yaml"
)

type feedConf struct {
	Name       string `yaml:"name"`
	ConfigPath string `yaml:"config"`
}

// Config contains the parameters for Manage
type Config struct {
	Feeds []feedConf `yaml:"feeds"`
}

// NewConfig creates a new Config
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

// FeedSettings contains the parameters for a single Feed. Exactly one of
// Device, URL, Filename, or Animation selects the video source.
type FeedSettings struct {
	Device        *int            `yaml:"device,omitempty"`
	URL           string          `yaml:"url,omitempty"`
	Filename      string          `yaml:"filename,omitempty"`
	Animation     string          `yaml:"animation,omitempty"`
	Loop          bool            `yaml:"loop,omitempty"`
	Quality       int             `yaml:"quality,omitempty"`
	StaleTimeout  int             `yaml:"staleTimeout,omitempty"`
	StaleMaxRetry int             `yaml:"staleMaxRetry,omitempty"`
	Pipeline      pipeline.Config `yaml:"pipeline,omitempty"`
}

// NewFeedSettings creates a new FeedSettings
func NewFeedSettings(configPath string) *FeedSettings {
	f := &FeedSettings{
		Quality:       80,
		StaleTimeout:  10,
		StaleMaxRetry: 5,
	}
	yamlFile, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("yamlFile.Get err   #%v ", err)
		return nil
	}
	err = yaml.Unmarshal(yamlFile, f)
	if err != nil {
		log.Printf("Unmarshal: %v", err)
		return nil
	}
	return f
}

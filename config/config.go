package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Node        Node
	Replication Replication
	Admission   Admission
	View        View
	Tracing     Tracing
}

// Node describes where one gallery peer keeps
// its data and on which addresses it listens.
type Node struct {
	Name           string
	DataDir        string
	ListenAddr     string
	APIAddr        string
	PrometheusAddr string
}

// Replication controls how a peer exchanges
// log suffixes with the peers it knows of.
type Replication struct {
	Peers          []string
	PullIntervalMS int
	DialTimeoutMS  int
	MaxPullOps     int
}

// Admission configures the joining side
// of the invite handshake.
type Admission struct {
	JoinTimeoutMS int
}

// View configures replay and accepted uploads.
type View struct {
	CheckpointInterval int
	AllowedExtensions  []string
}

// Tracing names the collector spans are sent to.
// Tracing is off if JaegerEndpoint is empty.
type Tracing struct {
	JaegerEndpoint string
}

// Functions

// Default returns the configuration a peer
// runs with if nothing else is specified.
func Default() *Config {

	return &Config{
		Node: Node{
			Name:       "gallery",
			DataDir:    "data",
			ListenAddr: "127.0.0.1:7070",
			APIAddr:    "127.0.0.1:8080",
		},
		Replication: Replication{
			PullIntervalMS: 1000,
			DialTimeoutMS:  5000,
			MaxPullOps:     512,
		},
		Admission: Admission{
			JoinTimeoutMS: 30000,
		},
		View: View{
			CheckpointInterval: 64,
			AllowedExtensions:  []string{"gif", "webp"},
		},
	}
}

// LoadConfig takes in the path to the config file of
// a gallery peer in TOML syntax and places the values
// from the file over the defaults.
func LoadConfig(configFile string) (*Config, error) {

	conf := Default()

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read in TOML config file at '%s' with: %v", configFile, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	// Relative data directories are taken
	// relative to the config file.
	if !filepath.IsAbs(conf.Node.DataDir) {

		absConfigDir, err := filepath.Abs(filepath.Dir(configFile))
		if err != nil {
			return nil, fmt.Errorf("could not get absolute path of config directory: %v", err)
		}

		conf.Node.DataDir = filepath.Join(absConfigDir, conf.Node.DataDir)
	}

	return conf, nil
}

// Validate checks values no peer can run with.
func (c *Config) Validate() error {

	if c.Node.DataDir == "" {
		return fmt.Errorf("Node.DataDir must not be empty")
	}

	if c.Node.ListenAddr == "" {
		return fmt.Errorf("Node.ListenAddr must not be empty")
	}

	if c.Replication.PullIntervalMS <= 0 {
		return fmt.Errorf("Replication.PullIntervalMS must be positive, got %d", c.Replication.PullIntervalMS)
	}

	if c.Admission.JoinTimeoutMS <= 0 {
		return fmt.Errorf("Admission.JoinTimeoutMS must be positive, got %d", c.Admission.JoinTimeoutMS)
	}

	for i, ext := range c.View.AllowedExtensions {
		c.View.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}

	return nil
}

// PullInterval returns the replication period.
func (r Replication) PullInterval() time.Duration {
	return time.Duration(r.PullIntervalMS) * time.Millisecond
}

// DialTimeout returns the time allowed per connection attempt.
func (r Replication) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMS) * time.Millisecond
}

// JoinTimeout returns how long a candidate waits
// for its own authorization to arrive.
func (a Admission) JoinTimeout() time.Duration {
	return time.Duration(a.JoinTimeoutMS) * time.Millisecond
}

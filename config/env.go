package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Structs

// Env holds information specific to the
// system where a peer is deployed. This
// enables host adaptions without needing
// to maintain two different config files.
type Env struct {
	DataDir  string
	LogLevel string
}

// Functions

// LoadEnv reads in the .env file at path if it
// exists and collects the gallery variables.
func LoadEnv(path string) (*Env, error) {

	// Load environment file.
	err := godotenv.Load(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read in .env file with: %v", err)
	}

	env := new(Env)

	// Fill variables from .env into struct.
	env.DataDir = os.Getenv("GALLERY_DATA_DIR")
	env.LogLevel = os.Getenv("GALLERY_LOGLEVEL")

	return env, nil
}

// Apply overrides the values of conf that
// the environment of this host sets.
func (e *Env) Apply(conf *Config) {

	if e.DataDir != "" {
		conf.Node.DataDir = e.DataDir
	}
}

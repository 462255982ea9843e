package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variables overlaying the launch configuration.
const (
	EnvRoot       = "CAPSULE_ROOT"
	EnvEntryPoint = "CAPSULE_ENTRY_POINT"
	EnvClasspath  = "CAPSULE_CLASSPATH"
	EnvConfig     = "CAPSULE_CONFIG"
)

// ConfigFileName is the conventional config file looked up next to the
// launched artifact.
const ConfigFileName = "capsule.toml"

// Config carries optional launch overrides. The zero value changes
// nothing: the root defaults to the running executable and the entry point
// comes from the manifest.
type Config struct {
	// Root overrides the artifact to launch.
	Root string `toml:"root"`

	// EntryPoint overrides the manifest's Entry-Point attribute.
	EntryPoint string `toml:"entry_point"`

	// Classpath lists extra directories or container files searched before
	// the artifact's own classpath.
	Classpath []string `toml:"classpath"`
}

// LoadConfig decodes a TOML config file.
func LoadConfig(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("launch: load config %s: %w", path, err)
	}
	return c, nil
}

// DiscoverConfig resolves the effective configuration for a launcher
// binary: the file named by CAPSULE_CONFIG, else capsule.toml next to the
// executable if present, overlaid with environment variables.
func DiscoverConfig() (Config, error) {
	var (
		c   Config
		err error
	)
	switch path := os.Getenv(EnvConfig); {
	case path != "":
		if c, err = LoadConfig(path); err != nil {
			return Config{}, err
		}
	default:
		if exe, exeErr := os.Executable(); exeErr == nil {
			path := filepath.Join(filepath.Dir(exe), ConfigFileName)
			if _, statErr := os.Stat(path); statErr == nil {
				if c, err = LoadConfig(path); err != nil {
					return Config{}, err
				}
			}
		}
	}
	return c.overlayEnv(), nil
}

// overlayEnv applies environment overrides on top of c.
func (c Config) overlayEnv() Config {
	if v := os.Getenv(EnvRoot); v != "" {
		c.Root = v
	}
	if v := os.Getenv(EnvEntryPoint); v != "" {
		c.EntryPoint = v
	}
	if v := os.Getenv(EnvClasspath); v != "" {
		c.Classpath = nil
		for _, p := range strings.Split(v, string(os.PathListSeparator)) {
			if p != "" {
				c.Classpath = append(c.Classpath, p)
			}
		}
	}
	return c
}

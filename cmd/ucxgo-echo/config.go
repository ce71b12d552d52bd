package main

import (
	"time"

	"github.com/BurntSushi/toml"
)

// tomlConfig describes the echo demo's TOML configuration file. Any
// field left at its zero value falls back to the matching cobra flag
// default, so an empty or absent file is a valid configuration.
type tomlConfig struct {
	Listen  listenConf
	Connect connectConf
	Logging logConf
}

type listenConf struct {
	Addr string
}

type connectConf struct {
	Addr           string
	TimeoutSeconds int `toml:"timeout-seconds"`
}

type logConf struct {
	Level string
}

func loadConfig(path string) (tomlConfig, error) {
	var cfg tomlConfig
	if path == "" {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}

func (c connectConf) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Package config loads server settings from environment variables. Flags in
// cmd/server take precedence; env fills in deployment defaults.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Server struct {
	Addr       string `env:"SS_ADDR" envDefault:":8080"`
	DataDir    string `env:"SS_DATA_DIR" envDefault:"./data"`
	ConfigDir  string `env:"SS_CONFIG_DIR" envDefault:"./configs"`
	DisableDB  bool   `env:"SS_DISABLE_DB"`
	PprofDebug bool   `env:"SS_PPROF"`
}

func FromEnv() (Server, error) {
	var c Server
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

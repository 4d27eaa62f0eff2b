// Package config holds the environment to database-location map. Defaults
// for the known environments are compiled in and can be overridden from a
// YAML file, so the binary is usable without one.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nataas/ipfill/internal/domain"
)

// LocalEnv is the environment that uses a fixed well-known credential and
// needs no credential provider or --db_region.
const LocalEnv = "local"

type Environment struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

type Config struct {
	Environments map[string]Environment `yaml:"environments"`
}

func Default() Config {
	return Config{
		Environments: map[string]Environment{
			LocalEnv: {Host: "localhost", Port: 5432, Database: "localdevdb"},
			"dev":    {Host: "devdb-pg16-aurora.cluster-c1a1rfqxl7mh.eu-west-1.rds.amazonaws.com", Port: 5432, Database: "devdb"},
			"stage":  {Host: "stagedb-pg16-aurora.cluster-c0cmryw6wtox.us-east-1.rds.amazonaws.com", Port: 5432, Database: "stagedb"},
			"prod":   {Host: "proddb-pg16-aurora.cluster-c20yinhaflta.us-east-1.rds.amazonaws.com", Port: 5432, Database: "proddb"},
		},
	}
}

// Load returns the defaults overlaid with entries from the YAML file at
// path. An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config: %v", domain.ErrConfig, err)
	}

	var overlay Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&overlay); err != nil {
		return Config{}, fmt.Errorf("%w: parse config %s: %v", domain.ErrConfig, path, err)
	}

	for name, env := range overlay.Environments {
		cfg.Environments[name] = env
	}
	return cfg, nil
}

// Environment resolves an environment name, failing with a configuration
// error for names outside the map.
func (c Config) Environment(name string) (Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: unknown environment %q", domain.ErrConfig, name)
	}
	return env, nil
}

// DSN assembles a postgres connection URL for the environment.
func (e Environment) DSN(username, password string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(username, password),
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
		Path:   "/" + e.Database,
	}
	return u.String()
}

package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/graphbolt/pkg/driver"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

// fileConfig is the optional YAML document --config points at. Flags always
// take precedence over fields set here; fileConfig only fills in values the
// caller left at their flag defaults.
type fileConfig struct {
	URI                   string        `yaml:"uri"`
	User                  string        `yaml:"user"`
	Password              string        `yaml:"password"`
	Database              string        `yaml:"database"`
	MaxConnectionPoolSize int           `yaml:"maxConnectionPoolSize"`
	ConnectionTimeout     time.Duration `yaml:"connectionTimeout"`
	CachePath             string        `yaml:"routingCachePath"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, graphbolterr.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, graphbolterr.Wrap(err, "parsing config file")
	}
	return fc, nil
}

// buildDriver assembles a driver.Driver from persistent flags, optionally
// overridden by a --config YAML document.
func buildDriver(cmd *cobra.Command) (*driver.Driver, string, error) {
	uri, _ := cmd.Flags().GetString("uri")
	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	database, _ := cmd.Flags().GetString("database")
	configPath, _ := cmd.Flags().GetString("config")

	fc, err := loadFileConfig(configPath)
	if err != nil {
		return nil, "", err
	}
	if !cmd.Flags().Changed("uri") && fc.URI != "" {
		uri = fc.URI
	}
	if !cmd.Flags().Changed("user") && fc.User != "" {
		user = fc.User
	}
	if !cmd.Flags().Changed("password") && fc.Password != "" {
		password = fc.Password
	}
	if !cmd.Flags().Changed("database") && fc.Database != "" {
		database = fc.Database
	}

	auth := driver.NoAuth()
	if user != "" {
		auth = driver.BasicAuth(user, password, "")
	}

	cfg := driver.Config{
		MaxConnectionPoolSize: fc.MaxConnectionPoolSize,
		ConnectionTimeout:     fc.ConnectionTimeout,
		CachePath:             fc.CachePath,
	}

	d, err := driver.New(uri, auth, cfg)
	if err != nil {
		return nil, "", err
	}
	return d, database, nil
}

package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type dbDriver string

const (
	DriverSQLite   dbDriver = "sqlite"
	DriverPostgres dbDriver = "postgres"
)

type DBConfig struct {
	// Driver selects the deal store backend.
	Driver           dbDriver `mapstructure:"driver"`
	ConnectionString string   `mapstructure:"connection_string"`
	// StatePath is the embedded database holding job definitions.
	StatePath        string   `mapstructure:"state_path"`
}

func (config DBConfig) validate() error {
	if config.Driver != DriverSQLite && config.Driver != DriverPostgres {
		return fmt.Errorf("unsupported driver %q", config.Driver)
	}
	if config.ConnectionString == "" {
		return fmt.Errorf("missing variable: db connection string")
	}
	if config.StatePath == "" {
		return fmt.Errorf("missing variable: db state path")
	}
	return nil
}

func (config DBConfig) bindEnvironmentVariables(v *viper.Viper) error {
	var errs []error
	if err := v.BindEnv("db.driver", "DB_DRIVER"); err != nil {
		errs = append(errs, err)
	}
	if err := v.BindEnv("db.connection_string", "DB_CONNECTION_STRING"); err != nil {
		errs = append(errs, err)
	}
	if err := v.BindEnv("db.state_path", "DB_STATE_PATH"); err != nil {
		errs = append(errs, err)
	}
	return createMultiError(errs)
}

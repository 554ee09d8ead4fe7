// Package config holds the settings of one named database connection.
package config

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes" validate:"min=0"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Type selects the dialect: "sqlite", "postgres" or "mysql".
	Type     string `yaml:"type" mapstructure:"type" validate:"required,oneof=sqlite postgres mysql"`
	Host     string `yaml:"host" mapstructure:"host" validate:"required_unless=Type sqlite"`
	Port     int    `yaml:"port" mapstructure:"port" validate:"min=0,max=65535"`
	// Database is the database name, or the file path (or ":memory:" DSN) for SQLite.
	Database string `yaml:"database" mapstructure:"database" validate:"required"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Schema   string `yaml:"schema,omitempty" mapstructure:"schema"`
	Sslmode  string `yaml:"sslmode" mapstructure:"sslmode"`
	// LogLevel is the GORM log level (SILENT, ERROR, WARN, INFO). SILENT by default.
	LogLevel string     `yaml:"log_level" mapstructure:"log_level"`
	Pool     PoolConfig `yaml:"pool" mapstructure:"pool"`
}

package config

import (
	"fmt"
	"net/url"
	"time"
)

const (
	// DefaultSSLMode is used when sslMode is unset
	DefaultSSLMode = "require"

	defaultMaxOpenConns    = 10
	defaultConnMaxLifetime = time.Hour
)

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username the server connects as
	User string `yaml:"user"`

	// MigrationUser runs schema migrations when set; defaults to User
	MigrationUser string `yaml:"migrationUser,omitempty"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// DynamicAuth replaces the static password with short-lived credentials
	DynamicAuth *DynamicAuthConfig `yaml:"dynamicAuth,omitempty"`
}

// DynamicAuthConfig selects a dynamic authentication method. At most one
// method may be set.
type DynamicAuthConfig struct {
	// AWSRDSIAM authenticates with IAM database tokens
	AWSRDSIAM *DynamicAuthAWSRDSIAM `yaml:"awsRdsIam,omitempty"`
}

// DynamicAuthAWSRDSIAM configures AWS RDS IAM authentication.
type DynamicAuthAWSRDSIAM struct {
	// Region of the database; "detect" reads it from instance metadata
	Region string `yaml:"region"`
}

func (d *DatabaseConfig) validate() error {
	switch {
	case d.Host == "":
		return fmt.Errorf("host is required")
	case d.Port <= 0 || d.Port > 65535:
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	case d.User == "":
		return fmt.Errorf("user is required")
	case d.Database == "":
		return fmt.Errorf("database is required")
	case d.MaxOpenConns < 0 || d.MaxIdleConns < 0:
		return fmt.Errorf("connection limits must not be negative")
	}
	switch d.SSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("sslMode: unsupported value %q", d.SSLMode)
	}
	if d.DynamicAuth != nil && d.DynamicAuth.AWSRDSIAM != nil && d.DynamicAuth.AWSRDSIAM.Region == "" {
		return fmt.Errorf("dynamicAuth.awsRdsIam.region is required")
	}
	return parseDuration("connMaxLifetime", d.ConnMaxLifetime)
}

// GetMigrationUser returns MigrationUser, or User when unset
func (d *DatabaseConfig) GetMigrationUser() string {
	if d.MigrationUser != "" {
		return d.MigrationUser
	}
	return d.User
}

// GetPassword returns the database password, read from PasswordFile when set
// and from THV_IMAGEGEN_DATABASE_PASSWORD otherwise.
func (d *DatabaseConfig) GetPassword() (string, error) {
	password, err := readSecret(d.PasswordFile, envName("DATABASE", "PASSWORD"))
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", fmt.Errorf(
			"no database password configured: set passwordFile or %s environment variable",
			envName("DATABASE", "PASSWORD"),
		)
	}
	return password, nil
}

// GetSSLMode returns the SSL mode, require when unset
func (d *DatabaseConfig) GetSSLMode() string {
	if d.SSLMode == "" {
		return DefaultSSLMode
	}
	return d.SSLMode
}

// GetMaxOpenConns returns the pool size
func (d *DatabaseConfig) GetMaxOpenConns() int32 {
	if d.MaxOpenConns == 0 {
		return defaultMaxOpenConns
	}
	return d.MaxOpenConns
}

// GetConnMaxLifetime returns the maximum connection lifetime
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return durationOr(d.ConnMaxLifetime, defaultConnMaxLifetime)
}

// GetConnectionString builds a PostgreSQL connection string for User.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	return d.connectionString(d.User)
}

// GetMigrationConnectionString builds a connection string for MigrationUser,
// or User when no migration user is configured.
func (d *DatabaseConfig) GetMigrationConnectionString() (string, error) {
	return d.connectionString(d.GetMigrationUser())
}

// connectionString embeds the static password. With dynamic auth the
// password is left out and supplied per connection.
func (d *DatabaseConfig) connectionString(user string) (string, error) {
	if d.DynamicAuth != nil {
		return d.BuildConnectionString(user, ""), nil
	}
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}
	return d.BuildConnectionString(user, password), nil
}

// BuildConnectionString builds a PostgreSQL URL for user. An empty password
// is omitted.
func (d *DatabaseConfig) BuildConnectionString(user, password string) string {
	userInfo := url.User(user)
	if password != "" {
		userInfo = url.UserPassword(user, password)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": []string{d.GetSSLMode()}}.Encode(),
	}
	return u.String()
}

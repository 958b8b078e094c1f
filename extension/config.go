package extension

// Store drivers accepted in Config.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the escrow extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.escrow" or "escrow" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// ProgramID is the base58 program id that stream and vault addresses
	// are derived under (default: the escrow program id).
	ProgramID string `json:"program_id" mapstructure:"program_id" yaml:"program_id"`

	// Driver selects the store backend built around the grove.DB passed
	// with WithGroveDB: postgres, sqlite or mongo (default: memory).
	// Ignored when a store is supplied with WithStore.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// Metrics registers the observability plugin on the default
	// Prometheus registerer.
	Metrics bool `json:"metrics" mapstructure:"metrics" yaml:"metrics"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver: DriverMemory,
	}
}

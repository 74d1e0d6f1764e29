package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var (
	boltURI    = regexp.MustCompile(`^(neo4j|bolt)(\+s|\+ssc)?://`)
	httpURL    = regexp.MustCompile(`^https?://`)
	identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Neo4j   Neo4jConfig       `yaml:"neo4j"`
	Oracle  OracleConfig      `yaml:"oracle"`
	Labels  LabelsConfig      `yaml:"labels"`
	Journal JournalConfig     `yaml:"journal"`
	Inbox   InboxConfig       `yaml:"inbox"`
	Events  EventsConfig      `yaml:"events"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"neo4j", &c.Neo4j},
		{"oracle", &c.Oracle},
		{"labels", &c.Labels},
		{"journal", &c.Journal},
		{"inbox", &c.Inbox},
		{"events", &c.Events},
		{"auth", &c.Auth},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// Neo4jConfig holds graph store connection settings.
type Neo4jConfig struct {
	URI            string        `yaml:"uri"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	MaxPoolSize    int           `yaml:"max_pool_size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// Validate validates the Neo4j configuration.
func (c *Neo4jConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URI, validation.Required, validation.Match(boltURI).Error("must be a neo4j:// or bolt:// URI")),
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.MaxPoolSize, validation.Min(1)),
		validation.Field(&c.AcquireTimeout, validation.Min(time.Duration(0))),
	)
}

// OracleConfig holds the language model endpoint settings.
type OracleConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// Validate validates the oracle configuration.
func (c *OracleConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.Match(httpURL).Error("must be an http(s) URL")),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.BreakerFailures, validation.Min(uint32(1))),
		validation.Field(&c.BreakerCooldown, validation.Min(time.Duration(0))),
	)
}

// LabelsConfig seeds the label registry.
//
// With AllowNew unset the registry is closed: extractions that use a label or
// relationship type outside these lists are rejected.
type LabelsConfig struct {
	NodeTypes         []string `yaml:"node_types"`
	RelationshipTypes []string `yaml:"relationship_types"`
	AllowNew          bool     `yaml:"allow_new"`
}

// Validate validates the label configuration.
func (c *LabelsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.NodeTypes, validation.When(!c.AllowNew, validation.Required),
			validation.Each(validation.Match(identifier))),
		validation.Field(&c.RelationshipTypes, validation.When(!c.AllowNew, validation.Required),
			validation.Each(validation.Match(identifier))),
	)
}

// JournalConfig holds the SQLite run journal location.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// InboxConfig holds the watched ingestion folder.
type InboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// EventsConfig holds server-sent event settings.
type EventsConfig struct {
	// SchemaThrottle is the minimum gap between schema.changed events per tenant.
	SchemaThrottle time.Duration `yaml:"schema_throttle"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SchemaThrottle, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Neo4j: Neo4jConfig{
			URI:            "neo4j://localhost:7687",
			Username:       "neo4j",
			Database:       "neo4j",
			MaxPoolSize:    50,
			AcquireTimeout: 30 * time.Second,
		},
		Oracle: OracleConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			Timeout:         60 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Labels: LabelsConfig{
			NodeTypes:         []string{"Person", "Company", "Location", "Product", "Project", "Event"},
			RelationshipTypes: []string{"WORKS_AT", "KNOWS", "LOCATED_IN", "OWNS", "PART_OF", "RELATED_TO"},
		},
		Journal: JournalConfig{
			Path: "./tenantgraph.db",
		},
		Inbox: InboxConfig{
			Path: "./inbox",
		},
		Events: EventsConfig{
			SchemaThrottle: 2 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/tenantgraph/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestNeo4jConfig_RejectsHTTPURI(t *testing.T) {
	cfg := NewDefaultConfig().Neo4j
	cfg.URI = "http://localhost:7474"
	if err := cfg.Validate(); err == nil {
		t.Fatal("http uri should fail validation")
	}
	for _, uri := range []string{"bolt://db:7687", "neo4j+s://x.databases.neo4j.io"} {
		cfg.URI = uri
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s: %v", uri, err)
		}
	}
}

func TestOracleConfig_Timeout(t *testing.T) {
	cfg := NewDefaultConfig().Oracle
	cfg.Timeout = 10 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("sub-second timeout should fail validation")
	}
	cfg.Timeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing timeout should fail validation")
	}
}

func TestLabelsConfig(t *testing.T) {
	closed := LabelsConfig{}
	if err := closed.Validate(); err == nil {
		t.Error("closed registry without labels should fail")
	}

	open := LabelsConfig{AllowNew: true}
	if err := open.Validate(); err != nil {
		t.Errorf("open registry may start empty: %v", err)
	}

	unsafe := LabelsConfig{NodeTypes: []string{"Person", "Bad Label"}, RelationshipTypes: []string{"KNOWS"}}
	err := unsafe.Validate()
	if err == nil {
		t.Fatal("label with a space should fail")
	}
	if !strings.Contains(err.Error(), "NodeTypes") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInboxConfig_PathRequiredWhenEnabled(t *testing.T) {
	cfg := InboxConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled inbox without path should fail")
	}
	cfg.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled inbox needs no path: %v", err)
	}
}

func TestFullConfig_SectionInError(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Journal.Path = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("missing journal path should fail")
	}
	if !strings.HasPrefix(err.Error(), "journal: ") {
		t.Errorf("error = %q, want journal prefix", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv("TG_TEST_NEO4J_PASSWORD", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  log_level: debug
  http:
    port: 9090
neo4j:
  uri: bolt://graph:7687
  password: ${TG_TEST_NEO4J_PASSWORD}
oracle:
  timeout: 45s
labels:
  node_types: [Contact, Deal]
  relationship_types: [OWNS]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Address() != ":9090" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Neo4j.Password != "s3cret" || cfg.Neo4j.Username != "neo4j" {
		t.Errorf("neo4j = %+v", cfg.Neo4j)
	}
	if cfg.Oracle.Timeout != 45*time.Second || cfg.Oracle.Model != "gpt-4o-mini" {
		t.Errorf("oracle = %+v", cfg.Oracle)
	}
	if len(cfg.Labels.NodeTypes) != 2 || cfg.Labels.NodeTypes[0] != "Contact" {
		t.Errorf("labels = %+v", cfg.Labels)
	}
}

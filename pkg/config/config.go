// Package config loads the YAML document that backs spec.md §6's
// initialize(config) operation — name, default_threshold, supported_chains,
// policies — plus the ambient stack's own knobs (log level, OTLP endpoint,
// database DSN, Redis address, S3 export bucket).
//
// Loading follows pkg/config/profile_loader.go's read-then-yaml.Unmarshal
// shape. Two checks the teacher's loader never performed are layered on
// top: the policy list is validated against a JSON Schema before it ever
// reaches pkg/policy (following pkg/firewall/firewall.go's
// compile-then-Validate pattern), and the document's schema_version is
// checked against the range this build understands with
// github.com/Masterminds/semver/v3 (following pkg/trust/pack_loader.go's
// semver.NewVersion/Constraints use), so a config written for an
// incompatible future schema fails loudly at load time instead of being
// partially applied.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/condition"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/policy"
)

// ErrConfig covers every configuration-load failure spec.md §7 groups
// under "ConfigError": a malformed document, a schema violation, or a
// schema_version outside the range this build supports.
var ErrConfig = errors.New("config: invalid configuration")

// SupportedSchemaVersions is the semver range this build accepts for a
// config document's schema_version field. Bumped only alongside a
// deliberate, backward-incompatible change to the document shape.
const SupportedSchemaVersions = ">= 1.0.0, < 2.0.0"

// Threshold mirrors spec.md §6's default_threshold{required, total}.
type Threshold struct {
	Required int `yaml:"required" json:"required"`
	Total    int `yaml:"total" json:"total"`
}

// ConditionSpec is the YAML/JSON form of a condition.Condition. Kind
// selects which of the remaining fields are meaningful, mirroring the
// closed-variant shape condition.Condition itself uses internally.
type ConditionSpec struct {
	Kind       string   `yaml:"kind" json:"kind"`
	Amount     uint64   `yaml:"amount,omitempty" json:"amount,omitempty"`
	Tokens     []string `yaml:"tokens,omitempty" json:"tokens,omitempty"`
	Chains     []string `yaml:"chains,omitempty" json:"chains,omitempty"`
	Start      uint64   `yaml:"start,omitempty" json:"start,omitempty"`
	End        uint64   `yaml:"end,omitempty" json:"end,omitempty"`
	Seconds    uint64   `yaml:"seconds,omitempty" json:"seconds,omitempty"`
	Expression string   `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// ToCondition builds the condition.Condition this spec describes.
func (c ConditionSpec) ToCondition() (condition.Condition, error) {
	switch condition.Kind(c.Kind) {
	case condition.KindMaxAmount:
		return condition.MaxAmount(c.Amount), nil
	case condition.KindMinAmount:
		return condition.MinAmount(c.Amount), nil
	case condition.KindDailyLimit:
		return condition.DailyLimit(c.Amount), nil
	case condition.KindAllowedTokens:
		return condition.AllowedTokens(c.Tokens...), nil
	case condition.KindAllowedChains:
		return condition.AllowedChains(c.Chains...), nil
	case condition.KindTimeWindow:
		return condition.TimeWindow(c.Start, c.End), nil
	case condition.KindCooldown:
		return condition.Cooldown(c.Seconds), nil
	case condition.KindExpression:
		return condition.Expression(c.Expression), nil
	default:
		return condition.Condition{}, fmt.Errorf("%w: unknown condition kind %q", ErrConfig, c.Kind)
	}
}

// PolicyActionSpec is the YAML/JSON form of a policy.PolicyAction.
type PolicyActionSpec struct {
	Kind      string   `yaml:"kind" json:"kind"`
	Required  int      `yaml:"required,omitempty" json:"required,omitempty"`
	FromRoles []string `yaml:"from_roles,omitempty" json:"from_roles,omitempty"`
}

func (a PolicyActionSpec) toPolicyAction() (policy.PolicyAction, error) {
	switch policy.ActionKind(a.Kind) {
	case policy.ActionAllow:
		return policy.Allow(), nil
	case policy.ActionDeny:
		return policy.Deny(), nil
	case policy.ActionRequireThreshold:
		return policy.RequireThreshold(a.Required, a.FromRoles...), nil
	default:
		return policy.PolicyAction{}, fmt.Errorf("%w: unknown policy action kind %q", ErrConfig, a.Kind)
	}
}

// PolicySpec is the YAML/JSON form of one pkg/policy.Policy entry.
type PolicySpec struct {
	Name       string           `yaml:"name" json:"name"`
	Priority   int              `yaml:"priority" json:"priority"`
	Conditions []ConditionSpec  `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Action     PolicyActionSpec `yaml:"action" json:"action"`
}

// ToPolicy builds the policy.Policy this spec describes.
func (p PolicySpec) ToPolicy() (policy.Policy, error) {
	conds := make([]condition.Condition, 0, len(p.Conditions))
	for _, cs := range p.Conditions {
		c, err := cs.ToCondition()
		if err != nil {
			return policy.Policy{}, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		conds = append(conds, c)
	}
	act, err := p.Action.toPolicyAction()
	if err != nil {
		return policy.Policy{}, fmt.Errorf("policy %q: %w", p.Name, err)
	}
	return policy.Policy{Name: p.Name, Priority: p.Priority, Conditions: conds, Action: act}, nil
}

// LogConfig configures the log/slog handler pkg/observability builds.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// DatabaseConfig points pkg/proposal.SQLStore at a Postgres or SQLite DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// RedisConfig points pkg/limits' distributed trackers at a shared Redis.
type RedisConfig struct {
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// S3Config points pkg/exportbundle at an S3-compatible bucket.
type S3Config struct {
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// RPCConfig configures pkg/rpcadapter.HTTPAdapter.
type RPCConfig struct {
	URL               string  `yaml:"url" json:"url"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// AuditConfig points pkg/audit.NewKeyedLog at the root secret it derives
// the chain's HMAC key from. The document names an environment variable
// rather than carrying the secret itself, so a config file stays safe to
// commit even when HMAC-keyed chaining is enabled.
type AuditConfig struct {
	RootSecretEnv string `yaml:"root_secret_env,omitempty" json:"root_secret_env,omitempty"`
}

// Config is the fully-parsed initialize(config) document plus the ambient
// stack knobs this build layers on top.
type Config struct {
	SchemaVersion    string         `yaml:"schema_version" json:"schema_version"`
	Name             string         `yaml:"name" json:"name"`
	DefaultThreshold Threshold      `yaml:"default_threshold" json:"default_threshold"`
	SupportedChains  []string       `yaml:"supported_chains" json:"supported_chains"`
	Policies         []PolicySpec   `yaml:"policies" json:"policies"`
	Log              LogConfig      `yaml:"log" json:"log"`
	Database         DatabaseConfig `yaml:"database" json:"database"`
	Redis            RedisConfig    `yaml:"redis" json:"redis"`
	S3               S3Config       `yaml:"s3" json:"s3"`
	RPC              RPCConfig      `yaml:"rpc" json:"rpc"`
	Audit            AuditConfig    `yaml:"audit" json:"audit"`
}

// schemaURL is a fixed, never-fetched identifier the compiler uses to
// address the in-memory schema resource; jsonschema/v5 never dereferences
// it over the network for a resource added via AddResource.
const schemaURL = "https://chainguard.local/config.schema.json"

// documentSchema is the JSON Schema every loaded config document must
// satisfy before its policies are handed to pkg/policy.Store.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "name", "default_threshold", "supported_chains", "policies"],
  "properties": {
    "schema_version": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "default_threshold": {
      "type": "object",
      "required": ["required", "total"],
      "properties": {
        "required": {"type": "integer", "minimum": 1},
        "total": {"type": "integer", "minimum": 1}
      }
    },
    "supported_chains": {
      "type": "array",
      "items": {"type": "string"},
      "minItems": 1
    },
    "policies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "priority", "action"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "priority": {"type": "integer"},
          "conditions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["kind"],
              "properties": {
                "kind": {
                  "enum": ["max_amount", "min_amount", "daily_limit", "allowed_tokens", "allowed_chains", "time_window", "cooldown", "expression"]
                }
              }
            }
          },
          "action": {
            "type": "object",
            "required": ["kind"],
            "properties": {
              "kind": {"enum": ["allow", "deny", "require_threshold"]}
            }
          }
        }
      }
    }
  }
}`

// Load reads, schema-validates, and version-gates the YAML document at
// path, then decodes it into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	return Parse(data)
}

// Parse runs the same load pipeline as Load against an in-memory document,
// used by tests and by hosts that fetch the config from somewhere other
// than the local filesystem.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing yaml: %v", ErrConfig, err)
	}

	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding yaml: %v", ErrConfig, err)
	}

	if err := checkSchemaVersion(cfg.SchemaVersion); err != nil {
		return nil, err
	}

	for _, p := range cfg.Policies {
		if _, err := p.ToPolicy(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	return &cfg, nil
}

func validateDocument(raw map[string]any) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, strings.NewReader(documentSchema)); err != nil {
		return fmt.Errorf("%w: loading schema: %v", ErrConfig, err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("%w: compiling schema: %v", ErrConfig, err)
	}

	// jsonschema/v5 requires JSON-native types (map[string]any with
	// string keys, no map[any]any); round-tripping through encoding/json
	// normalizes whatever yaml.Unmarshal produced.
	normalized, err := roundTripJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: normalizing document: %v", ErrConfig, err)
	}

	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", ErrConfig, err)
	}
	return nil
}

func roundTripJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkSchemaVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: invalid schema_version %q: %v", ErrConfig, version, err)
	}
	constraint, err := semver.NewConstraint(SupportedSchemaVersions)
	if err != nil {
		return fmt.Errorf("config: invalid internal constraint %q: %w", SupportedSchemaVersions, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: schema_version %s is not in the supported range %s", ErrConfig, version, SupportedSchemaVersions)
	}
	return nil
}

// BuildPolicies converts every PolicySpec in cfg into a policy.Policy,
// in document order. Callers add each returned policy to a policy.Store
// themselves so store-assigned IDs stay under the caller's control.
func (cfg *Config) BuildPolicies() ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(cfg.Policies))
	for _, p := range cfg.Policies {
		converted, err := p.ToPolicy()
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// SupportedChainSet returns cfg.SupportedChains as a lookup set, used to
// validate an action's chain before it is even handed to the policy
// engine.
func (cfg *Config) SupportedChainSet() map[string]bool {
	set := make(map[string]bool, len(cfg.SupportedChains))
	for _, c := range cfg.SupportedChains {
		set[c] = true
	}
	return set
}

// SupportsChain reports whether a targets a chain listed in
// cfg.SupportedChains.
func (cfg *Config) SupportsChain(a action.Action) bool {
	return cfg.SupportedChainSet()[a.Chain()]
}

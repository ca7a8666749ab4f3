package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yaml "gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
)

// EnvPrefix is the namespace for environment-variable overrides, per
// spec.md §6: "<NAMESPACE>_<SECTION>__<KEY> form overrides nested
// config (double underscore is the path separator)".
const EnvPrefix = "AGENTGW_"

// Load reads path, applies environment overrides under the AGENTGW_
// namespace, fills in defaults, and validates the result.
//
// If a file named ".env" exists in the working directory it is loaded
// into the process environment first (github.com/joho/godotenv), the
// same convenience the teacher's pkg/config/env.go provides.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yamlParser{}); err != nil {
		return nil, &agentgwerr.ConfigError{Section: "file", Message: "failed to load config file", Err: err}
	}

	// Environment overrides: AGENTGW_STORE__DRIVER -> store.driver
	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyTransform), nil); err != nil {
		return nil, &agentgwerr.ConfigError{Section: "env", Message: "failed to load environment overrides", Err: err}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, &agentgwerr.ConfigError{Section: "decode", Message: "failed to decode config", Err: err}
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &agentgwerr.ConfigError{Section: "validate", Message: "config validation failed", Err: err}
	}

	return cfg, nil
}

// envKeyTransform converts AGENTGW_STORE__MAX_OPEN_CONNS into
// store.max_open_conns: the AGENTGW_ prefix is stripped, the remainder
// is lowercased, and "__" (the path separator) becomes ".".
func envKeyTransform(s string) string {
	trimmed := strings.TrimPrefix(s, EnvPrefix)
	dotted := strings.ReplaceAll(trimmed, "__", ".")
	return strings.ToLower(dotted)
}

// yamlParser adapts gopkg.in/yaml.v3 to koanf's Parser interface,
// expanding ${VAR}/${VAR:-default}/$VAR references before parsing so
// interpolation works inside arbitrary scalar values (API keys, hosts,
// DSNs), the same trick as the teacher's pkg/config/env.go.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	expanded := expandEnvVars(string(b))
	var out map[string]interface{}
	if err := yaml.Unmarshal([]byte(expanded), &out); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return out, nil
}

func (yamlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(m)
}

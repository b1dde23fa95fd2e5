package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar selects a named configuration variant: RADBOT_ENV=prod loads
// config.prod.yaml next to the base file when it exists.
const EnvVar = "RADBOT_ENV"

// Load reads the config file at path, applies the RADBOT_ENV variant and
// environment expansion, and merges the result over the built-in defaults.
// A missing path returns defaults untouched.
func Load(path string) (*Config, error) {
	merged := rawDefaults()

	if strings.TrimSpace(path) != "" {
		path = selectVariant(path)
		raw, err := loadRaw(path)
		if err != nil {
			if os.IsNotExist(err) {
				return decodeRaw(merged)
			}
			return nil, err
		}
		merged = mergeMaps(merged, raw)
	}

	return decodeRaw(merged)
}

// selectVariant swaps config.yaml for config.<env>.yaml when RADBOT_ENV is
// set and the variant file exists.
func selectVariant(path string) string {
	env := strings.TrimSpace(os.Getenv(EnvVar))
	if env == "" {
		return path
	}
	ext := filepath.Ext(path)
	variant := strings.TrimSuffix(path, ext) + "." + env + ext
	if _, err := os.Stat(variant); err == nil {
		return variant
	}
	return path
}

func loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))
	return parseRawBytes([]byte(expanded))
}

func parseRawBytes(data []byte) (map[string]any, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func rawDefaults() map[string]any {
	payload, err := yaml.Marshal(Default())
	if err != nil {
		return map[string]any{}
	}
	raw, err := parseRawBytes(payload)
	if err != nil {
		return map[string]any{}
	}
	return raw
}

// mergeMaps deep-merges src over dst. Nested maps merge recursively;
// everything else is replaced.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

package credentials

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// overridePrefix namespaces config-section overrides inside the credential
// store: an entry named "config:agent" overrides the "agent" section.
const overridePrefix = "config:"

// ConfigOverrides implements config.OverrideSource: it unseals every
// config:<section> entry and returns the parsed section maps.
func (s *Store) ConfigOverrides(ctx context.Context) (map[string]map[string]any, error) {
	records, err := s.backend.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]any{}
	for _, rec := range records {
		if !strings.HasPrefix(rec.Name, overridePrefix) {
			continue
		}
		section := strings.TrimPrefix(rec.Name, overridePrefix)
		if section == "" {
			continue
		}
		unsealed, err := s.Get(ctx, rec.Name)
		if err != nil {
			return nil, fmt.Errorf("unseal override %s: %w", rec.Name, err)
		}
		var values map[string]any
		if err := yaml.Unmarshal([]byte(unsealed.Value), &values); err != nil {
			return nil, fmt.Errorf("parse override %s: %w", rec.Name, err)
		}
		out[section] = values
	}
	return out, nil
}

// SetConfigOverride seals a section override. Value is YAML.
func (s *Store) SetConfigOverride(ctx context.Context, section, value string) error {
	if strings.TrimSpace(section) == "" {
		return fmt.Errorf("override section is required")
	}
	var probe map[string]any
	if err := yaml.Unmarshal([]byte(value), &probe); err != nil {
		return fmt.Errorf("override must be a YAML mapping: %w", err)
	}
	return s.Set(ctx, &Record{
		Name:  overridePrefix + section,
		Value: value,
		Type:  "config_override",
	})
}

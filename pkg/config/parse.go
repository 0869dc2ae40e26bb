package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

// ParseConfigYAML parses a Config from YAML bytes on top of Default and validates it.
// Keys absent from the document keep their default value.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseConfigYAMLString parses a Config from a YAML string and validates it.
func ParseConfigYAMLString(yamlText string) (*Config, error) {
	return ParseConfigYAML([]byte(yamlText))
}

// ParseGraphFixtureYAML parses a graph fixture (nodes and links) used by the
// headless layout command and by tests.
func ParseGraphFixtureYAML(data []byte) (*models.Neighborhood, error) {
	var nb models.Neighborhood
	if err := yaml.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("failed to parse graph fixture yaml: %w", err)
	}

	if err := validateFixture(&nb); err != nil {
		return nil, fmt.Errorf("invalid graph fixture: %w", err)
	}

	return &nb, nil
}

package vapi

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the checked-in list of tools this service serves.
type Catalog struct {
	Tools []CatalogTool `yaml:"tools"`
}

// CatalogTool is one tool entry of tools.yaml.
type CatalogTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Path        string         `yaml:"path"`
	Parameters  map[string]any `yaml:"parameters"`
}

// LoadCatalog reads and validates a tools.yaml file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	seen := map[string]bool{}
	for i, t := range cat.Tools {
		if t.Name == "" || !strings.HasPrefix(t.Path, "/") {
			return nil, fmt.Errorf("tool %d: name and absolute path are required", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tool %q listed twice", t.Name)
		}
		seen[t.Name] = true
	}
	return &cat, nil
}

// Tool builds the VAPI definition pointing at baseURL.
func (t CatalogTool) Tool(baseURL, secret string) Tool {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        t.Name,
			Description: strings.TrimSpace(t.Description),
			Parameters:  params,
		},
		Server: &ToolServer{URL: strings.TrimRight(baseURL, "/") + t.Path, Secret: secret},
	}
}

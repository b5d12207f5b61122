package agents

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"voicecanvas/internal/protocol"
)

//go:embed agents.yaml
var builtinAgents []byte

// Config is one agent the session can be configured with.
type Config struct {
	Name              string                    `json:"name"`
	PublicDescription string                    `json:"publicDescription"`
	Instructions      string                    `json:"instructions"`
	Tools             []protocol.ToolDefinition `json:"tools"`
}

// Catalog holds the named agent sets and the default key.
type Catalog struct {
	Default string
	Sets    map[string][]Config
}

type fileTool struct {
	Type        string         `yaml:"type"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

type fileAgent struct {
	Name              string     `yaml:"name"`
	PublicDescription string     `yaml:"publicDescription"`
	Instructions      string     `yaml:"instructions"`
	Tools             []fileTool `yaml:"tools"`
}

type fileCatalog struct {
	Default string                 `yaml:"default"`
	Sets    map[string][]fileAgent `yaml:"sets"`
}

// Builtin returns the catalog compiled into the binary.
func Builtin() (Catalog, error) {
	return Parse(builtinAgents)
}

// Load reads a catalog from path, falling back to the builtin one when the
// path is empty.
func Load(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Builtin()
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read agents file %q: %w", path, err)
	}
	catalog, err := Parse(contents)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to parse agents file %q: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes a YAML catalog.
func Parse(contents []byte) (Catalog, error) {
	var raw fileCatalog
	if err := yaml.Unmarshal(contents, &raw); err != nil {
		return Catalog{}, err
	}
	if len(raw.Sets) == 0 {
		return Catalog{}, errors.New("no agent sets defined")
	}

	catalog := Catalog{Default: strings.TrimSpace(raw.Default), Sets: make(map[string][]Config, len(raw.Sets))}
	for key, agents := range raw.Sets {
		if len(agents) == 0 {
			return Catalog{}, fmt.Errorf("agent set %q is empty", key)
		}
		converted := make([]Config, 0, len(agents))
		for _, agent := range agents {
			cfg, err := convertAgent(agent)
			if err != nil {
				return Catalog{}, fmt.Errorf("agent set %q: %w", key, err)
			}
			converted = append(converted, cfg)
		}
		catalog.Sets[key] = converted
	}

	if catalog.Default == "" {
		catalog.Default = lo.Min(lo.Keys(catalog.Sets))
	}
	if _, ok := catalog.Sets[catalog.Default]; !ok {
		return Catalog{}, fmt.Errorf("default agent set %q is not defined", catalog.Default)
	}
	return catalog, nil
}

func convertAgent(agent fileAgent) (Config, error) {
	name := strings.TrimSpace(agent.Name)
	if name == "" {
		return Config{}, errors.New("agent name is required")
	}
	tools := make([]protocol.ToolDefinition, 0, len(agent.Tools))
	for _, tool := range agent.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return Config{}, fmt.Errorf("agent %q has a tool without a name", name)
		}
		def := protocol.ToolDefinition{
			Type:        lo.Ternary(tool.Type == "", "function", tool.Type),
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.Parameters) > 0 {
			params, err := json.Marshal(tool.Parameters)
			if err != nil {
				return Config{}, fmt.Errorf("agent %q tool %q parameters: %w", name, tool.Name, err)
			}
			def.Parameters = params
		}
		tools = append(tools, def)
	}
	return Config{
		Name:              name,
		PublicDescription: agent.PublicDescription,
		Instructions:      agent.Instructions,
		Tools:             tools,
	}, nil
}

// Select returns the set stored under key, or the default set when key is
// empty or unknown, together with the key actually used.
func (c Catalog) Select(key string) (string, []Config) {
	key = strings.TrimSpace(key)
	if set, ok := c.Sets[key]; ok {
		return key, set
	}
	return c.Default, c.Sets[c.Default]
}

// HasTool reports whether the agent declares a tool with the given name.
func (c Config) HasTool(name string) bool {
	return lo.ContainsBy(c.Tools, func(tool protocol.ToolDefinition) bool { return tool.Name == name })
}

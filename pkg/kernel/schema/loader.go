package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a blueprint from disk. Files ending in .json are decoded
// as JSON; everything else as strict YAML.
func LoadFile(path string) (*Blueprint, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read blueprint: %w", err)
		}
		return LoadJSON(data)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blueprint: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a blueprint YAML document from a reader.
// Returns a structural error if the YAML contains unknown fields.
func Load(r io.Reader) (*Blueprint, error) {
	var bp Blueprint
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&bp); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &bp, nil
}

// LoadJSON decodes a blueprint from its JSON wire form.
func LoadJSON(data []byte) (*Blueprint, error) {
	var bp Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("decode blueprint json: %w", err)
	}
	return &bp, nil
}

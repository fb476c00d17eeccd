package zipjob

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRequest reads a job payload from path.
//
// The format is chosen by extension: .yaml/.yml for YAML, .json for JSON.
// Anything else is tried as YAML, then JSON. Unknown fields are rejected.
// The returned request is not validated.
func LoadRequest(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Request{}, fmt.Errorf("job file not found: %s", path)
		}
		if os.IsPermission(err) {
			return Request{}, fmt.Errorf("permission denied reading job file: %s", path)
		}
		return Request{}, fmt.Errorf("failed to read job file: %w", err)
	}
	return ParseRequest(data, path)
}

// ParseRequest decodes a job payload. path is used only for format
// detection and messages.
func ParseRequest(data []byte, path string) (Request, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Request{}, errors.New("job file is empty")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	}

	req, yerr := parseYAML(data)
	if yerr == nil {
		return req, nil
	}
	req, jerr := parseJSON(data)
	if jerr == nil {
		return req, nil
	}
	return Request{}, fmt.Errorf("job file is neither valid YAML (%v) nor JSON (%v)", yerr, jerr)
}

func parseYAML(data []byte) (Request, error) {
	var req Request
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("invalid YAML job: %w", err)
	}
	return req, nil
}

func parseJSON(data []byte) (Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("invalid JSON job: %w", err)
	}
	return req, nil
}

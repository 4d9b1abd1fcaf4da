package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
)

// ReadFile reads and decodes the config at path.
func ReadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, b)
}

// Decode strictly decodes data. A .yaml or .yml path is read as YAML and
// anything else as JSON. Unknown fields and trailing documents are errors.
func Decode(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()

	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	switch err := dec.Decode(new(json.RawMessage)); {
	case errors.Is(err, io.EOF):
		return cfg, nil
	case err == nil:
		return nil, fmt.Errorf("%s config: trailing data after document", format)
	default:
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
}

// fingerprint identifies a config by content so repeated saves of the same
// file do not republish it.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(cfg); err != nil {
		return 0
	}
	return h.Sum64()
}

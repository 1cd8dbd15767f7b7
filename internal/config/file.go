package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML config file into a Config. Fields absent from
// the file are left zero-valued; Parse only uses non-zero fields from
// the result to seed flag defaults below env vars and above the
// struct's hardcoded defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// configPathFromArgs finds a --config/-config value in args without
// fully parsing the flag set, so Parse can load the file's values as
// defaults before flag.FlagSet sees -config itself (flag doesn't
// support a value influencing another flag's default mid-parse).
func configPathFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > len("-config=") && a[:len("-config=")] == "-config=":
			return a[len("-config="):]
		case len(a) > len("--config=") && a[:len("--config=")] == "--config=":
			return a[len("--config="):]
		}
	}
	return ""
}

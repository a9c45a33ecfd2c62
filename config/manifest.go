package config

import (
	"io"

	"gopkg.in/yaml.v2"

	"github.com/francoislaurent/syncacre/errors"
)

// Manifest lists the repositories one daemon process should drive,
// each naming the RC file that holds its actual configuration (§6).
// A manifest lets a single syncacred process supervise several
// repositories without repeating connection details on the command
// line.
type Manifest struct {
	Repositories []ManifestEntry `yaml:"repositories"`
}

// ManifestEntry names one repository's RC file.
type ManifestEntry struct {
	Name   string `yaml:"name"`
	RCFile string `yaml:"rc_file"`
}

// LoadManifest parses a YAML manifest from r.
func LoadManifest(r io.Reader) (*Manifest, error) {
	const op = "config.LoadManifest"
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.E(op, errors.ConfigError, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.E(op, errors.ConfigError, err)
	}
	for _, e := range m.Repositories {
		if e.Name == "" || e.RCFile == "" {
			return nil, errors.E(op, errors.ConfigError,
				errors.Str("every manifest entry requires name and rc_file"))
		}
	}
	return &m, nil
}

package chain

import (
	"fmt"
	"io/fs"
	"path"

	"github.com/getpup/pupsourcing-migrator"
	"gopkg.in/yaml.v3"
)

// Manifest describes a chain stored as SQL files next to a YAML index.
//
//	revisions:
//	  - revision: 3f2a91c0
//	    parent: ""
//	    description: create documents table
//	    up: 0001_documents.up.sql
//	    down: 0001_documents.down.sql
type Manifest struct {
	Revisions []ManifestEntry `yaml:"revisions"`
}

// ManifestEntry is one step in a Manifest. File names are relative to the manifest.
type ManifestEntry struct {
	Revision    string `yaml:"revision"`
	Parent      string `yaml:"parent"`
	Description string `yaml:"description"`
	Up          string `yaml:"up"`
	Down        string `yaml:"down"`
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// LoadManifest reads the manifest at name from fsys, loads every referenced SQL
// file and builds a validated chain. Steps without a down file are irreversible.
func LoadManifest(fsys fs.FS, name string) (*Chain, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", name, err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	dir := path.Dir(name)
	steps := make([]migrator.Step, 0, len(m.Revisions))
	for _, e := range m.Revisions {
		if e.Up == "" {
			return nil, fmt.Errorf("revision %s: up file is required", e.Revision)
		}

		up, err := fs.ReadFile(fsys, path.Join(dir, e.Up))
		if err != nil {
			return nil, fmt.Errorf("revision %s: failed to read up file: %w", e.Revision, err)
		}

		step := migrator.Step{
			Revision:    migrator.Revision(e.Revision),
			Parent:      migrator.Revision(e.Parent),
			Description: e.Description,
			Up:          migrator.SQL(string(up)),
		}

		if e.Down != "" {
			down, err := fs.ReadFile(fsys, path.Join(dir, e.Down))
			if err != nil {
				return nil, fmt.Errorf("revision %s: failed to read down file: %w", e.Revision, err)
			}
			step.Down = migrator.SQL(string(down))
		}

		steps = append(steps, step)
	}

	return New(steps...)
}

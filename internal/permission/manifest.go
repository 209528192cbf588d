package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// manifestDoc mirrors the permission block of a plugin manifest file, in
// the style of the teacher's plugin.yaml descriptor.
type manifestDoc struct {
	Permissions struct {
		Env   []string `yaml:"env"`
		HTTP  []string `yaml:"http"`
		State []string `yaml:"state"`
	} `yaml:"permissions"`
}

// FromManifest parses a permission Set out of a plugin manifest YAML file.
func FromManifest(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("permission: read manifest: %w", err)
	}
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Set{}, fmt.Errorf("permission: parse manifest: %w", err)
	}
	return Set{
		Env:   doc.Permissions.Env,
		HTTP:  doc.Permissions.HTTP,
		State: doc.Permissions.State,
	}, nil
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
)

// File is the optional YAML configuration named by RENKU_AIIDA_CONFIG.
type File struct {
	Owner           profile.Owner `yaml:"owner"`
	WritableProfile string        `yaml:"writable_profile"`
	TemplateDir     string        `yaml:"template_dir"`
	CatalogBaseURL  string        `yaml:"catalog_url"`
}

// LoadFile reads the YAML file at path. A missing file yields an empty File
// when allowMissing is set.
func LoadFile(path string, allowMissing bool) (File, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return File{}, fmt.Errorf("config file path is required")
	}

	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return File{}, nil
		}
		return File{}, fmt.Errorf("read config file: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return File{}, nil
	}

	var file File
	if err := yaml.Unmarshal(content, &file); err != nil {
		return File{}, fmt.Errorf("parse config file: %w", err)
	}
	file.normalize()
	return file, nil
}

func (f *File) normalize() {
	f.Owner.FirstName = strings.TrimSpace(f.Owner.FirstName)
	f.Owner.LastName = strings.TrimSpace(f.Owner.LastName)
	f.Owner.Email = strings.TrimSpace(f.Owner.Email)
	f.Owner.Institution = strings.TrimSpace(f.Owner.Institution)
	f.WritableProfile = strings.TrimSpace(f.WritableProfile)
	f.TemplateDir = strings.TrimSpace(f.TemplateDir)
	f.CatalogBaseURL = strings.TrimSpace(f.CatalogBaseURL)
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/transferdesk/transferdesk/pkg/review"
)

// LoadProfile reads a yaml review profile. An empty path returns the
// built-in defaults; a missing file is an error (a configured path that
// does not exist is a deployment mistake, not a fallback case).
func LoadProfile(path string) (review.Profile, error) {
	if path == "" {
		return review.DefaultProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return review.Profile{}, fmt.Errorf("read review profile %s: %w", path, err)
	}

	var p review.Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return review.Profile{}, fmt.Errorf("parse review profile %s: %w", path, err)
	}
	return p, nil
}

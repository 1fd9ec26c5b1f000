package etl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNoCategories = errors.New("no categories configured")

type categoryFile struct {
	Data []string `yaml:"data"`
}

// LoadCategories reads the category paths for shop from dir. The file is
// named after the lower-cased shop, either <shop>.json or <shop>.yaml, and
// holds {"data": [...]}.
func LoadCategories(dir, shop string) ([]string, error) {
	base := strings.ToLower(shop)

	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(dir, base+ext)

		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read categories: %w", err)
		}

		var file categoryFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if len(file.Data) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoCategories, path)
		}
		return file.Data, nil
	}

	return nil, fmt.Errorf("%w: no category file for %s in %s", ErrNoCategories, shop, dir)
}

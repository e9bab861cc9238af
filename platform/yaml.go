package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/charlesren/ylog"
	"gopkg.in/yaml.v3"
)

// Parse 解析 YAML 平台定义
func Parse(data []byte) (Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Definition{}, fmt.Errorf("parse platform definition: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// LoadFile reads one YAML definition without registering it.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read platform file %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// LoadDir registers every *.yaml / *.yml definition found in dir and returns
// the names it added. Files are processed in lexical order; the first error
// stops loading.
func LoadDir(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var added []string
	for _, f := range files {
		d, err := LoadFile(f)
		if err != nil {
			return added, err
		}
		if err := Register(d); err != nil {
			return added, fmt.Errorf("%s: %w", f, err)
		}
		added = append(added, d.Name)
	}
	ylog.Debugf("platform", "loaded %d platform definitions from %s", len(added), dir)
	return added, nil
}

// Marshal renders a definition as YAML, the format LoadFile accepts.
func Marshal(d Definition) ([]byte, error) {
	return yaml.Marshal(d)
}

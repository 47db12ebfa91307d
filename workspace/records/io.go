package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

func isYaml(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isRecordFile(path string) bool {
	return isYaml(path) || strings.ToLower(filepath.Ext(path)) == ".json"
}

// decode accepts either a list of records or a single record.
func decode[R any](data []byte, yamlFormat bool) ([]R, error) {
	if yamlFormat {
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		if len(node.Content) == 0 {
			return []R{}, nil
		}
		if node.Content[0].Kind == yaml.SequenceNode {
			var out []R
			if err := node.Decode(&out); err != nil {
				return nil, err
			}
			return out, nil
		}
		var single R
		if err := node.Decode(&single); err != nil {
			return nil, err
		}
		return []R{single}, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []R{}, nil
	}
	if trimmed[0] == '[' {
		var out []R
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var single R
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []R{single}, nil
}

// Decode parses json or yaml data holding one record or a list of records.
func Decode[R any](data []byte, yamlFormat bool) ([]R, error) {
	return decode[R](data, yamlFormat)
}

// LoadFile reads a json or yaml file holding one record or a list of records.
func LoadFile[R any](path string) ([]R, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %v: %w", path, err)
	}
	out, err := decode[R](data, isYaml(path))
	if err != nil {
		return nil, fmt.Errorf("error parsing %v: %w", path, err)
	}
	return out, nil
}

// LoadDir reads every json/yaml file in dir in lexical order and concatenates their records.
func LoadDir[R any](dir string) ([]R, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error listing %v: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && isRecordFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]R, 0)
	for _, name := range names {
		recs, err := LoadFile[R](filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Load reads path as a file or, if it is a directory, with LoadDir.
func Load[R any](path string) ([]R, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %v: %w", path, err)
	}
	if info.IsDir() {
		return LoadDir[R](path)
	}
	return LoadFile[R](path)
}

func WriteFile[R any](path string, recs []R) error {
	if recs == nil {
		recs = []R{}
	}

	var data []byte
	var err error
	if isYaml(path) {
		data, err = yaml.Marshal(recs)
	} else {
		data, err = json.MarshalIndent(recs, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("error encoding records for %v: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %v: %w", path, err)
	}
	return nil
}

// Locate finds the file or directory holding a collection inside a workspace
// directory: <collection>.json, <collection>.yaml, <collection>.yml or <collection>/.
func Locate(dir string, c Collection) (string, bool) {
	candidates := []string{
		filepath.Join(dir, string(c)),
		filepath.Join(dir, string(c)+".json"),
		filepath.Join(dir, string(c)+".yaml"),
		filepath.Join(dir, string(c)+".yml"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// Canonical returns the normalized json encoding of a record, used for content equality.
func Canonical[R Record[R]](r R) ([]byte, error) {
	return json.Marshal(r.Normalized())
}

func Equal[R Record[R]](a, b R) bool {
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

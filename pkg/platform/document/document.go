// Package document reads the YAML and JSON(C) files the service is
// configured from. JSON is parsed as YAML after comments and trailing commas
// are stripped, so both formats share one node tree.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMalformed is matched by every Parse failure, as opposed to I/O
	// errors from ReadFile.
	ErrMalformed = errors.New("malformed document")

	// ErrAlias is returned when a document uses YAML anchors or aliases.
	ErrAlias = errors.New("anchors and aliases are not permitted")
)

// IsJSON reports whether path names a JSON or JSONC document.
func IsJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return true
	}
	return false
}

// Parse returns the root content node of data. hint is a file name used to
// pick the format; an empty hint means YAML.
func Parse(hint string, data []byte) (*yaml.Node, error) {
	if IsJSON(hint) {
		data = jsonc.ToJSON(data)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	root := doc.Content[0]
	if err := rejectAliases(root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return root, nil
}

// ReadFile reads and parses path.
func ReadFile(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	root, err := Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}

// Decode parses data and decodes it into T with yaml struct tags.
func Decode[T any](hint string, data []byte) (T, error) {
	var out T
	root, err := Parse(hint, data)
	if err != nil {
		return out, err
	}
	if err := root.Decode(&out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func rejectAliases(n *yaml.Node) error {
	if n.Kind == yaml.AliasNode || n.Anchor != "" {
		return fmt.Errorf("line %d: %w", n.Line, ErrAlias)
	}
	for _, child := range n.Content {
		if err := rejectAliases(child); err != nil {
			return err
		}
	}
	return nil
}

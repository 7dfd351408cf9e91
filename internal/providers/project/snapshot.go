package project

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ErrEmptySnapshot is returned when a snapshot file holds no document.
var ErrEmptySnapshot = errors.New("snapshot is empty")

// LoadSnapshot reads an Inventory serialized as YAML or JSON. JSON is
// decoded by the YAML parser so both forms yield the same number types.
func LoadSnapshot(path string) (*models.Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptySnapshot)
	}
	var inv models.Inventory
	if err := node.Decode(&inv); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &inv, nil
}

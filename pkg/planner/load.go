// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jllopis/reactloop/pkg/errors"
)

// LoadPlan loads a plan from a YAML or JSON file.
func LoadPlan(path string) (*Plan, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "plan path is required", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "read plan file", err).WithContext("path", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseAuto(data)
	}
}

// ParseAuto detects the encoding. A structural error from the detected
// format is returned as is so cycle reports are not masked.
func ParseAuto(data []byte) (*Plan, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return ParseJSON([]byte(trimmed))
	}
	return ParseYAML(data)
}

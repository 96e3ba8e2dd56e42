// Package loader reads workflow definitions from YAML or JSON documents
// and rejects malformed ones before a run is ever created.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/flowmod/flowmod/pkg/graph"
	"github.com/flowmod/flowmod/pkg/models"
)

// Format selects the document encoding of a workflow definition.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var validate = validator.New()

// workflowSchema is the structural contract every definition must meet
// before it is decoded into models. Semantic rules (step variant arity,
// dependency references, cycles) are checked afterwards on the decoded
// workflow.
const workflowSchema = `{
	"type": "object",
	"required": ["version", "nodes"],
	"properties": {
		"version": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"state": {"type": "object"},
		"params": {"type": "object"},
		"templates": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "steps"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"steps": {"type": "array", "minItems": 1}
				}
			}
		},
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"enum": ["automatic", "manual"]},
					"depends_on": {"type": "array", "items": {"type": "string"}},
					"steps": {"type": "array"}
				}
			}
		}
	}
}`

// Load reads and validates the workflow definition at path. The format
// is chosen by file extension; anything but .json is treated as YAML.
func Load(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}

	return Parse(data, format)
}

// Parse decodes and validates a workflow definition.
func Parse(data []byte, format Format) (*models.Workflow, error) {
	document, err := decodeDocument(data, format)
	if err != nil {
		return nil, err
	}

	err = checkDocument(document)
	if err != nil {
		return nil, err
	}

	workflow := &models.Workflow{}

	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, workflow)
	case FormatYAML:
		err = yaml.Unmarshal(data, workflow)
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", format)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}

	err = validate.Struct(workflow)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	err = workflow.Validate()
	if err != nil {
		return nil, err
	}

	// Cycles are fatal at load time, before any run exists.
	_, err = graph.NewResolver(workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

func decodeDocument(data []byte, format Format) (any, error) {
	var document any

	switch format {
	case FormatJSON:
		err := json.Unmarshal(data, &document)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON document: %w", err)
		}
	case FormatYAML:
		err := yaml.Unmarshal(data, &document)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML document: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", format)
	}

	return document, nil
}

func checkDocument(document any) error {
	schemaLoader := gojsonschema.NewStringLoader(workflowSchema)
	documentLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("workflow document is invalid: %s", strings.Join(messages, "; "))
	}

	return nil
}

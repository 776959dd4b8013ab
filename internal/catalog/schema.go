package catalog

import (
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// recordSchema accepts both flat records ({"title": ...}) and InvenioRDM style
// records ({"metadata": {"title": ...}}). Fields are only type-checked.
const recordSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": ["string", "integer"]},
    "title": {"type": "string"},
    "doi": {"type": "string"},
    "mca_entry": {"type": ["string", "integer"]},
    "metadata": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "doi": {"type": "string"},
        "mca_entry": {"type": ["string", "integer"]},
        "identifiers": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "scheme": {"type": "string"},
              "identifier": {"type": "string"}
            }
          }
        }
      }
    },
    "pids": {
      "type": "object",
      "properties": {
        "doi": {
          "type": "object",
          "properties": {"identifier": {"type": "string"}}
        }
      }
    }
  },
  "anyOf": [
    {"required": ["title"]},
    {"required": ["metadata"], "properties": {"metadata": {"required": ["title"]}}}
  ]
}`

// cacheSchema describes the persisted metadata cache slot.
const cacheSchema = `{
  "type": "object",
  "required": ["archive_url", "archive_filename", "aiida_profile"],
  "properties": {
    "archive_url": {"type": "string", "minLength": 1},
    "archive_filename": {"type": "string", "minLength": 1},
    "record_id": {"type": "string"},
    "title": {"type": "string"},
    "doi": {"type": "string"},
    "mca_entry": {"type": "string"},
    "aiida_profile": {"type": "string", "minLength": 1}
  }
}`

var (
	compileOnce    sync.Once
	compiledRecord *jsonschema.Schema
	compiledCache  *jsonschema.Schema
	compileErr     error
)

func compileSchemas() error {
	compileOnce.Do(func() {
		compiledRecord, compileErr = jsonschema.NewCompiler().Compile([]byte(recordSchema))
		if compileErr != nil {
			compileErr = fmt.Errorf("compile record schema: %w", compileErr)
			return
		}
		compiledCache, compileErr = jsonschema.NewCompiler().Compile([]byte(cacheSchema))
		if compileErr != nil {
			compileErr = fmt.Errorf("compile cache schema: %w", compileErr)
		}
	})
	return compileErr
}

func validateRecord(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validateWith(compiledRecord, data)
}

func validateCache(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validateWith(compiledCache, data)
}

func validateWith(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request-body schemas for the mutating endpoints. Validation happens
// before anything reaches the engine so malformed payloads never consume a
// command slot.

const uploadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["requirement_id", "file_name"],
	"properties": {
		"requirement_id": {"type": "string", "minLength": 1},
		"file_name": {"type": "string", "minLength": 1},
		"size_bytes": {"type": "integer", "minimum": 0},
		"file_type": {"type": "string", "enum": ["PDF", "DOC", "XLS", "OTHER"]},
		"uploaded_by": {"type": "string"},
		"description": {"type": "string"},
		"content_ref": {"type": "string"},
		"entity_name": {"type": "string"},
		"country": {"type": "string"},
		"legal_requirement_name": {"type": "string"}
	},
	"additionalProperties": false
}`

const decisionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["evidence_id", "decision"],
	"properties": {
		"evidence_id": {"type": "string", "minLength": 1},
		"decision": {"type": "string", "enum": ["APPROVE", "REJECT", "ESCALATE"]},
		"reviewer_id": {"type": "string"},
		"note": {"type": "string"},
		"escalation_reason": {"type": "string"},
		"tagged_authorities": {"type": "array", "items": {"type": "string"}},
		"escalated_to": {"type": "string"}
	},
	"additionalProperties": false
}`

const escalateSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"reason": {"type": "string"}
	},
	"additionalProperties": false
}`

type schemas struct {
	upload   *jsonschema.Schema
	decision *jsonschema.Schema
	escalate *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		return c.Compile(name)
	}

	var (
		s   schemas
		err error
	)
	if s.upload, err = compile("upload.json", uploadSchema); err != nil {
		return nil, err
	}
	if s.decision, err = compile("decision.json", decisionSchema); err != nil {
		return nil, err
	}
	if s.escalate, err = compile("escalate.json", escalateSchema); err != nil {
		return nil, err
	}
	return &s, nil
}

// decodeValidated reads the request body, validates it against the schema,
// and decodes it into dst. Returns a human-readable reason on failure.
func decodeValidated(body io.Reader, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return err
	}
	return json.NewDecoder(bytes.NewReader(raw)).Decode(dst)
}

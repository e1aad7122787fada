package model

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/clearline-ai/clearline/errs"
)

// Schema is a compiled JSON schema used to constrain model output.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document. The name appears in
// validation error messages.
func CompileSchema(name, raw string) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "parse schema "+name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", doc); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "register schema "+name, err)
	}
	compiled, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "compile schema "+name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompileSchema compiles a schema or panics. For package-level schemas
// whose source is a compile-time constant.
func MustCompileSchema(name, raw string) *Schema {
	s, err := CompileSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// GenerateJSON issues a single-shot completion and decodes the output into
// out, validating it against the schema first. Model outputs are parsed
// defensively: fenced code blocks are stripped, anything that is not valid
// JSON or fails schema validation is rejected as a validation error rather
// than guessed at, and key order is never assumed.
func GenerateJSON(ctx context.Context, client Client, req Request, schema *Schema, out any) error {
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(resp.Text, schema, out)
}

// DecodeJSON validates raw model output against the schema and decodes it
// into out.
func DecodeJSON(text string, schema *Schema, out any) error {
	raw := ExtractJSON(text)
	if raw == "" {
		return errs.Newf(errs.KindValidation, "model output for %s contains no JSON", schema.name)
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return errs.Wrap(errs.KindValidation, "model output for "+schema.name+" is not valid JSON", err)
	}
	if err := schema.compiled.Validate(value); err != nil {
		return errs.Wrap(errs.KindValidation, "model output failed "+schema.name+" schema", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errs.Wrap(errs.KindValidation, "decode model output for "+schema.name, err)
	}
	return nil
}

// ExtractJSON isolates the JSON value inside model output: it strips markdown
// code fences and leading/trailing prose around the outermost object or array.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if fenced := extractFence(s); fenced != "" {
		s = fenced
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	end := strings.LastIndexByte(s, close)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

func extractFence(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return ""
	}
	rest := s[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Skip the language tag line (```json).
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return ""
}

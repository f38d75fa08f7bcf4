package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/sanvibhowmick/forge/internal/domain"
)

// Schema derives and resolves the JSON schema of T.
func Schema[T any]() (*jsonschema.Resolved, []byte, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, nil, fmt.Errorf("inferring schema: %w", err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding schema: %w", err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("resolving schema: %w", err)
	}
	return resolved, raw, nil
}

// GenerateJSON asks gen for a single JSON object shaped like T and decodes
// it into out. The schema is appended to the system prompt. Output that is
// not JSON, or that fails validation, yields domain.ErrSchemaViolation.
func GenerateJSON[T any](ctx context.Context, gen Generator, req Request, out *T) error {
	resolved, raw, err := Schema[T]()
	if err != nil {
		return err
	}

	req.System = strings.TrimSpace(req.System) +
		"\n\nRespond with exactly one JSON object and nothing else. It must validate against this JSON Schema:\n" +
		string(raw)

	text, err := gen.Generate(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(text, resolved, out)
}

// DecodeJSON extracts the JSON object from text, validates it and decodes
// it into out.
func DecodeJSON[T any](text string, resolved *jsonschema.Resolved, out *T) error {
	body := ExtractJSONObject(text)
	if body == "" {
		return fmt.Errorf("%w: no JSON object in response", domain.ErrSchemaViolation)
	}

	var instance map[string]any
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	if resolved != nil {
		if err := resolved.Validate(instance); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
		}
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	return nil
}

// ExtractJSONObject returns the outermost {...} span of text after removing
// any markdown fence, or "" when there is none.
func ExtractJSONObject(text string) string {
	s := StripCodeFences(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

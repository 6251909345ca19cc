package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/agentic/pkg/schema"
)

// Extractor evaluates jq expressions against JSON action results, backing the
// result_path field of call_api and llm actions. Thread-safe: compiled *Code
// objects are cached and reused across goroutines.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewExtractor creates a new jq Extractor.
func NewExtractor() *Extractor {
	return &Extractor{cache: make(map[string]*gojq.Code)}
}

// ExtractString runs expression against the JSON document payload and renders
// the first result as a string. Non-JSON payloads are evaluated as raw
// strings so `.` still works on plain-text responses. jq expressions can
// produce multiple outputs; outputs past the first are discarded.
func (e *Extractor) ExtractString(ctx context.Context, expression, payload string) (string, error) {
	code, err := e.getOrCompile(expression)
	if err != nil {
		return "", err
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		doc = payload
	}

	iter := code.RunWithContext(ctx, doc)
	val, ok := iter.Next()
	if !ok {
		return "", nil
	}
	if err, isErr := val.(error); isErr {
		return "", schema.NewErrorf(schema.ErrCodeExecution,
			"jq evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return renderString(val), nil
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *Extractor) getOrCompile(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// renderString converts a jq result into the string form stored in the
// last-result slot: strings pass through, everything else is JSON-encoded.
func renderString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

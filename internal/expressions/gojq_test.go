package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentic/pkg/schema"
)

func TestExtractor_StringField(t *testing.T) {
	e := NewExtractor()
	payload := `{"status_code": 200, "body": {"name": "ada", "tags": ["x", "y"]}}`

	got, err := e.ExtractString(context.Background(), ".body.name", payload)
	require.NoError(t, err)
	assert.Equal(t, "ada", got)
}

func TestExtractor_NonStringResultIsJSONEncoded(t *testing.T) {
	e := NewExtractor()
	payload := `{"items": [1, 2, 3]}`

	got, err := e.ExtractString(context.Background(), ".items", payload)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, got)

	got, err = e.ExtractString(context.Background(), ".items | length", payload)
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestExtractor_PlainTextPayload(t *testing.T) {
	e := NewExtractor()

	got, err := e.ExtractString(context.Background(), ".", "not json at all")
	require.NoError(t, err)
	assert.Equal(t, "not json at all", got)
}

func TestExtractor_ParseError(t *testing.T) {
	e := NewExtractor()

	_, err := e.ExtractString(context.Background(), ".[broken", "{}")
	require.Error(t, err)

	var aerr *schema.AgenticError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeValidation, aerr.Code)
}

func TestExtractor_EmptyExpression(t *testing.T) {
	e := NewExtractor()
	_, err := e.ExtractString(context.Background(), "", "{}")
	require.Error(t, err)
}

func TestExtractor_CompilationCached(t *testing.T) {
	e := NewExtractor()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.ExtractString(ctx, ".a", `{"a": "v"}`)
		require.NoError(t, err)
	}
	assert.Len(t, e.cache, 1)
}

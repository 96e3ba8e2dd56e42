package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_PlainString(t *testing.T) {
	result, err := Render("hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestRender_StateLookup(t *testing.T) {
	data := map[string]any{
		"state":  map[string]any{"branch": "main"},
		"params": map[string]any{"dry_run": true},
	}

	result, err := Render("{{ .state.branch }}", data)
	require.NoError(t, err)
	assert.Equal(t, "main", result)

	result, err = Render("{{ .params.dry_run }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRender_MatrixValues(t *testing.T) {
	data := map[string]any{"matrix": map[string]any{"shard": float64(2)}}

	result, err := Render("{{ .matrix.shard }}", data)
	require.NoError(t, err)
	assert.Equal(t, float64(2), result)
}

func TestRender_JSONCoercion(t *testing.T) {
	data := map[string]any{"outputs": map[string]any{"files": []any{"a.ts", "b.ts"}}}

	result, err := Render(`{{ json .outputs.files }}`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a.ts", "b.ts"}, result)
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{ .unclosed", nil)
	assert.Error(t, err)
}

func TestRenderString(t *testing.T) {
	data := map[string]any{"state": map[string]any{"count": 3}}

	out, err := RenderString("found {{ .state.count }}", data)
	require.NoError(t, err)
	assert.Equal(t, "found 3", out)
}

func TestRenderMap(t *testing.T) {
	data := map[string]any{"matrix": map[string]any{"pkg": "core"}}

	out, err := RenderMap(map[string]string{
		"TARGET": "{{ .matrix.pkg }}",
		"PLAIN":  "fixed",
	}, data)
	require.NoError(t, err)
	assert.Equal(t, "core", out["TARGET"])
	assert.Equal(t, "fixed", out["PLAIN"])

	out, err = RenderMap(nil, data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

func TestBindFirstOccurrenceOrder(t *testing.T) {
	sql, args, err := Bind(
		"SELECT * FROM t WHERE b = :beta AND a = :alpha OR b2 = :beta",
		map[string]any{"alpha": 1, "beta": "x", "unused": true},
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE b = $1 AND a = $2 OR b2 = $1", sql)
	assert.Equal(t, []any{"x", 1}, args)
}

func TestBindSkipsCastsLiteralsAndComments(t *testing.T) {
	sql, args, err := Bind(
		"SELECT :id::int, ':not', \"col:x\", 'it''s :no' -- :comment\n/* :block */ FROM t WHERE x = :id_2",
		map[string]any{"id": "7", "id_2": 9},
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT $1::int, ':not', \"col:x\", 'it''s :no' -- :comment\n/* :block */ FROM t WHERE x = $2", sql)
	assert.Equal(t, []any{"7", 9}, args)
}

func TestBindSkipsDollarQuotedAndEscapedStrings(t *testing.T) {
	sql, args, err := Bind(
		"SELECT $$ :a $$, $fn$ it's :b $fn$, E'it\\'s :c', :d, $1",
		map[string]any{"d": 4},
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT $$ :a $$, $fn$ it's :b $fn$, E'it\\'s :c', $1, $1", sql)
	assert.Equal(t, []any{4}, args)

	sql, args, err = Bind("SELECT name FROM t WHERE type = :type", map[string]any{"type": "x"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM t WHERE type = $1", sql)
	assert.Equal(t, []any{"x"}, args)
}

func TestBindMissingParameter(t *testing.T) {
	_, _, err := Bind("SELECT :a, :b", map[string]any{"a": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
	assert.Equal(t, "missing required parameter: b", err.Error())
}

func TestBindNoPlaceholders(t *testing.T) {
	sql, args, err := Bind("SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
	assert.Empty(t, args)
}

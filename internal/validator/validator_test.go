package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
)

func testValidator() *Validator {
	return New(DefaultConfig(), zerolog.Nop())
}

func TestValidate_AllowsPlainSelect(t *testing.T) {
	v := testValidator()
	result, err := v.Validate(context.Background(), "SELECT id, name FROM customers WHERE id = 1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, QuerySelect, result.QueryType)
}

func TestValidate_BlocksUnionInjection(t *testing.T) {
	v := testValidator()
	result, err := v.Validate(context.Background(), "SELECT * FROM users WHERE id = 1 UNION SELECT password FROM admins")
	require.Error(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, RiskCritical, result.Risk)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindSQLInjectionRisk, e.Kind)
}

func TestValidate_BlocksStackedQuery(t *testing.T) {
	v := testValidator()
	_, err := v.Validate(context.Background(), "SELECT 1; DROP TABLE users")
	require.Error(t, err)
}

func TestValidate_BlocksWriteCommandInReadOnlyMode(t *testing.T) {
	v := testValidator()
	result, err := v.Validate(context.Background(), "DELETE FROM customers WHERE id = 1")
	require.Error(t, err)
	assert.Equal(t, QueryDelete, result.QueryType)
	assert.Contains(t, result.Violations[0], "read-only")
}

func TestValidate_AllowsWriteWhenReadOnlyModeDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadOnlyMode = false
	v := New(cfg, zerolog.Nop())
	result, err := v.Validate(context.Background(), "UPDATE customers SET name = 'a' WHERE id = 1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidate_RejectsEmptyQuery(t *testing.T) {
	v := testValidator()
	_, err := v.Validate(context.Background(), "   ")
	require.Error(t, err)
}

func TestValidate_RejectsOverlongQuery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueryLength = 20
	v := New(cfg, zerolog.Nop())
	result, err := v.Validate(context.Background(), "SELECT * FROM a_very_long_table_name_here")
	require.Error(t, err)
	assert.Contains(t, result.Violations[0], "too long")
}

func TestValidate_FlagsUnbalancedParenthesesInStrictMode(t *testing.T) {
	v := testValidator()
	result, err := v.Validate(context.Background(), "SELECT * FROM t WHERE (a = 1")
	require.Error(t, err) // strict mode blocks medium risk too
	found := false
	for _, violation := range result.Violations {
		if violation == "unbalanced parentheses" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_DisabledConfigSkipsAllChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	v := New(cfg, zerolog.Nop())
	result, err := v.Validate(context.Background(), "DROP TABLE users; --")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestSanitize_StripsCommentsAndTrailingSemicolon(t *testing.T) {
	out := Sanitize("SELECT 1; -- comment\n/* block */ SELECT  2 ;")
	assert.NotContains(t, out, "--")
	assert.NotContains(t, out, "/*")
	assert.Equal(t, false, len(out) > 0 && out[len(out)-1] == ';')
}

func TestStats_TracksBlockedAndValidCounts(t *testing.T) {
	v := testValidator()
	_, _ = v.Validate(context.Background(), "SELECT 1")
	_, _ = v.Validate(context.Background(), "SELECT * FROM a UNION SELECT * FROM b")

	stats := v.Stats()
	assert.Equal(t, int64(2), stats["total_queries"])
	assert.Equal(t, int64(1), stats["valid_queries"])
	assert.Equal(t, int64(1), stats["blocked_queries"])
}

func TestValidate_ErrorIsRetryableFalseForInjectionRisk(t *testing.T) {
	v := testValidator()
	_, err := v.Validate(context.Background(), "SELECT SLEEP(5)")
	require.Error(t, err)
	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.False(t, e.Retryable())
}

package warehouse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
)

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestClassify_Transient(t *testing.T) {
	err := classify(errors.New("driver: bad connection"))
	var e *errs.Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindDriverTransient, e.Kind)
	assert.True(t, e.Retryable())
}

func TestClassify_Permanent(t *testing.T) {
	err := classify(errors.New("syntax error near SELECT"))
	var e *errs.Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindDriverPermanent, e.Kind)
	assert.False(t, e.Retryable())
}

func TestIsTransient_CaseInsensitive(t *testing.T) {
	assert.True(t, isTransient(errors.New("Connection Refused by host")))
	assert.True(t, isTransient(errors.New("server has gone away")))
	assert.False(t, isTransient(errors.New("Access denied for user")))
}

package domain

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := NewBusinessError("LIMIT_REACHED", "product limit reached")
	wrapped := errors.Wrap(fmt.Errorf("create product: %w", base), "adminapi")

	assert.Equal(t, KindBusinessRule, KindOf(wrapped))
	assert.Equal(t, "LIMIT_REACHED", CodeOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestExternalErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewExternalError("GATEWAY_ERROR", "cash-in failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := &Error{Status: 402, Code: "CARD_DECLINED", Detail: "Card declined."}
	assert.Equal(t, "processor error 402 CARD_DECLINED: Card declined.", err.Error())

	err = &Error{Status: 400, Code: "BAD_REQUEST"}
	assert.Equal(t, "processor error 400 BAD_REQUEST", err.Error())
}

func TestAsError(t *testing.T) {
	wrapped := fmt.Errorf("authorize: %w", &Error{Status: 402, Code: "CARD_DECLINED"})

	perr, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 402, perr.Status)

	_, ok = AsError(fmt.Errorf("x: %w", ErrUnavailable))
	assert.False(t, ok)
	assert.True(t, errors.Is(fmt.Errorf("x: %w", ErrUnavailable), ErrUnavailable))
}

package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCause(t *testing.T) {
	base := FileNotFound{Path: "/saves"}

	tests := []struct {
		name string
		err  error
		exp  error
	}{
		{
			name: "Unwrapped",
			err:  base,
			exp:  base,
		},
		{
			name: "Single context",
			err:  WithContext(base, "stat"),
			exp:  base,
		},
		{
			name: "Nested context",
			err:  WithContext(WithContext(base, "stat"), "start watcher"),
			exp:  base,
		},
	}

	for _, test := range tests {
		assert.Equal(t, test.exp, RootCause(test.err), test.name)
	}
}

func TestWithContext(t *testing.T) {
	assert.Nil(t, WithContext(nil, "ignored"))

	err := WithContext(WithContext(New("permission denied"), "open"), "copy file")
	assert.EqualError(t, err, "copy file: open: permission denied")
	assert.True(t, Is(err, RootCause(err)))
}

func TestGetPrintableMessage(t *testing.T) {
	friendly := NewFriendlyError("Please wait %d seconds.", 4)
	assert.Equal(t, "Please wait 4 seconds.",
		GetPrintableMessage(WithContext(friendly, "upload")))

	plain := WithContext(New("boom"), "upload")
	assert.Equal(t, "upload: boom", GetPrintableMessage(plain))
}

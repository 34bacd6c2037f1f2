package sl_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
)

func TestErr(t *testing.T) {
	attr := sl.Err(errors.New("something went wrong"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "something went wrong", attr.Value.String())

	assert.Equal(t, "<nil>", sl.Err(nil).Value.String())
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "writer@example.com", want: "w***@example.com"},
		{in: "a@b.io", want: "a***@b.io"},
		{in: "broken", want: "***"},
		{in: "@nouser.com", want: "***"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			attr := sl.Email(tt.in)
			assert.Equal(t, "email", attr.Key)
			assert.Equal(t, tt.want, attr.Value.String())
		})
	}
}

package tag

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		tag    string
		reason Reason
		valid  bool
	}{
		{name: "simple", tag: "dev-repo", valid: true},
		{name: "all allowed punctuation", tag: "a=b@c_d.e-f", valid: true},
		{name: "single character", tag: "x", valid: true},
		{name: "exactly max length", tag: strings.Repeat("a", MaxLength), valid: true},
		{name: "empty", tag: "", reason: ReasonEmpty},
		{name: "one over max length", tag: strings.Repeat("a", MaxLength+1), reason: ReasonTooLong},
		{name: "space and bang", tag: "bad tag!", reason: ReasonBadCharacter},
		{name: "slash", tag: "team/app", reason: ReasonBadCharacter},
		{name: "colon", tag: "env:prod", reason: ReasonBadCharacter},
		{name: "non-ascii letter", tag: "café", reason: ReasonBadCharacter},
		{name: "trailing newline", tag: "prod\n", reason: ReasonBadCharacter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("new tag", tt.tag)
			assert.Equal(t, tt.valid, IsValid(tt.tag))
			if tt.valid {
				require.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.reason, verr.Reason)
			assert.Equal(t, tt.tag, verr.Tag)
			assert.Contains(t, err.Error(), "new tag")
		})
	}
}

func TestValidationErrorMessages(t *testing.T) {
	t.Run("too long reports current length", func(t *testing.T) {
		err := Validate("old tag", strings.Repeat("z", 70))
		require.Error(t, err)
		assert.Equal(t, "old tag must be 63 characters or less (current: 70 characters)", err.Error())
	})

	t.Run("bad character lists the allowed set", func(t *testing.T) {
		err := Validate("new tag", "bad tag!")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "(=@_.-)")
	})
}

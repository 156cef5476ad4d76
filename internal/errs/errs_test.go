package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscriminators(t *testing.T) {
	cases := []struct {
		err   error
		check func(error) bool
	}{
		{ConfigMissing("no key"), IsConfigMissing},
		{QuotaExceeded("over limit"), IsQuotaExceeded},
		{Transient("timeout", errors.New("dial tcp: timeout")), IsTransient},
		{URLRejected("blocked"), IsURLRejected},
		{SchemaInvariantViolated("bad remap", nil), IsSchemaInvariantViolated},
		{Precondition("cannot delete default persona"), IsPrecondition},
	}

	for _, c := range cases {
		assert.True(t, c.check(c.err), "expected %v to match its own discriminator", c.err)
	}
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(QuotaExceeded("x"))
	require.True(t, ok)
	assert.Equal(t, KindQuotaExceeded, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := Transient("llm call failed", cause)
	assert.ErrorIs(t, err, cause)
}

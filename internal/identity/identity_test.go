package identity

import (
	"strings"
	"testing"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	t.Run("valid ids", func(t *testing.T) {
		for _, id := range []string{
			"server-1",
			"eu-west.prod.04",
			"my_gateway",
			"abc",
		} {
			assert.NoError(t, ValidateID(id), id)
		}
	})

	t.Run("invalid ids", func(t *testing.T) {
		for _, id := range []string{
			"ab",
			strings.Repeat("x", 129),
			"has space",
			"slash/id",
			"dots..inside",
			"double//slash",
			"admin",
			"ROOT",
			"null",
		} {
			err := ValidateID(id)
			require.Error(t, err, id)
			assert.True(t, model.IsValidation(err), id)
		}
	})
}

func TestProvider_Resolve(t *testing.T) {
	t.Run("explicit id wins", func(t *testing.T) {
		p := NewProvider("my-server-1", "https://gw.example.com")
		assert.Equal(t, "my-server-1", p.Resolve())
	})

	t.Run("invalid explicit id falls back to derived", func(t *testing.T) {
		p := NewProvider("admin", "https://gw.example.com")
		derived := NewProvider("", "https://gw.example.com").Resolve()
		assert.Equal(t, derived, p.Resolve())
	})

	t.Run("deterministic across restarts", func(t *testing.T) {
		a := NewProvider("", "https://gw.example.com").Resolve()
		b := NewProvider("", "https://gw.example.com").Resolve()
		assert.Equal(t, a, b)

		c := NewProvider("", "https://other.example.com").Resolve()
		assert.NotEqual(t, a, c)
	})

	t.Run("seed whitespace is ignored", func(t *testing.T) {
		a := NewProvider("", "https://gw.example.com").Resolve()
		b := NewProvider("", "  https://gw.example.com  ").Resolve()
		assert.Equal(t, a, b)
	})

	t.Run("random fallback without any signal", func(t *testing.T) {
		a := NewProvider("", "").Resolve()
		b := NewProvider("", "").Resolve()
		assert.NotEmpty(t, a)
		assert.NotEqual(t, a, b)
	})

	t.Run("resolve is cached", func(t *testing.T) {
		p := NewProvider("", "")
		assert.Equal(t, p.Resolve(), p.Resolve())
	})
}

package stokes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	assert.True(t, XX.Valid())
	assert.True(t, XY.Valid())
	assert.True(t, YX.Valid())
	assert.True(t, YY.Valid())
	assert.False(t, Undefined.Valid())
	assert.False(t, Stokes("ZZ").Valid())
}

func TestParse(t *testing.T) {
	assert.Equal(t, XX, Parse("XX"))
	assert.Equal(t, Undefined, Parse("bogus"))
	assert.Equal(t, Undefined, Parse(""))
}

func TestConjugate(t *testing.T) {
	assert.Equal(t, YX, XY.Conjugate())
	assert.Equal(t, XY, YX.Conjugate())
	assert.Equal(t, XX, XX.Conjugate())
	assert.Equal(t, YY, YY.Conjugate())
}

package credential_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/credential"
)

func TestPlainMode(t *testing.T) {
	v, err := credential.New("")
	require.NoError(t, err)
	assert.Equal(t, credential.ModePlain, v.Mode())

	stored, err := v.Prepare("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", stored)
	assert.True(t, v.Verify(stored, "secret"))
	assert.False(t, v.Verify(stored, "Secret"))
	assert.False(t, v.Verify(stored, ""))
}

func TestBcryptMode(t *testing.T) {
	v, err := credential.New(credential.ModeBcrypt)
	require.NoError(t, err)

	stored, err := v.Prepare("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", stored)
	assert.True(t, v.Verify(stored, "secret"))
	assert.False(t, v.Verify(stored, "wrong"))
}

func TestUnknownMode(t *testing.T) {
	_, err := credential.New("rot13")
	assert.Error(t, err)
}

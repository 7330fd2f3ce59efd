package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	box, err := NewSecretBox("master-key")
	require.NoError(t, err)

	sealed, err := box.Seal("smtp-password")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "smtp-password")

	plain, err := box.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "smtp-password", plain)
}

func TestSealIsNonDeterministic(t *testing.T) {
	box, err := NewSecretBox("master-key")
	require.NoError(t, err)

	first, err := box.Seal("secret")
	require.NoError(t, err)
	second, err := box.Seal("secret")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestUnsealPlaintextPassthrough(t *testing.T) {
	box, err := NewSecretBox("master-key")
	require.NoError(t, err)

	plain, err := box.Unseal("not-sealed-at-all")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed-at-all", plain)
}

func TestUnsealWrongKey(t *testing.T) {
	sealer, err := NewSecretBox("key-one")
	require.NoError(t, err)
	sealed, err := sealer.Seal("secret")
	require.NoError(t, err)

	opener, err := NewSecretBox("key-two")
	require.NoError(t, err)
	_, err = opener.Unseal(sealed)
	assert.Error(t, err)
}

func TestUnsealCorruptValue(t *testing.T) {
	box, err := NewSecretBox("master-key")
	require.NoError(t, err)

	_, err = box.Unseal("sealed:!!!not-base64!!!")
	assert.Error(t, err)

	_, err = box.Unseal("sealed:AAAA")
	assert.Error(t, err, "too short to carry a nonce")
}

func TestNewSecretBoxEmptyKey(t *testing.T) {
	_, err := NewSecretBox("")
	assert.Error(t, err)
}

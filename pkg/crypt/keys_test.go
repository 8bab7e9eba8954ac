package crypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigningKey(t *testing.T) {
	assert := assert.New(t)

	privateKey, err := GenerateSigningKey()
	require.Nil(t, err)
	keyID := KeyID(&privateKey.PublicKey)
	assert.NotEmpty(keyID)
	assert.Equal(keyID, KeyID(&privateKey.PublicKey))

	t.Run("Plain", func(t *testing.T) {
		encoded, err := EncodePrivateKey(privateKey, keyID, "")
		assert.Nil(err)

		decoded, kid, err := DecodePrivateKey(encoded, "")
		assert.Nil(err)
		assert.Equal(keyID, kid)
		assert.True(privateKey.Equal(decoded))
	})

	t.Run("Encrypted", func(t *testing.T) {
		encoded, err := EncodePrivateKey(privateKey, keyID, "correct horse")
		assert.Nil(err)

		decoded, kid, err := DecodePrivateKey(encoded, "correct horse")
		assert.Nil(err)
		assert.Equal(keyID, kid)
		assert.True(privateKey.Equal(decoded))

		_, _, err = DecodePrivateKey(encoded, "battery staple")
		assert.ErrorIs(err, ErrorWrongPassphrase)
	})

	t.Run("Public", func(t *testing.T) {
		encoded, err := EncodePublicKey(&privateKey.PublicKey, keyID)
		assert.Nil(err)

		decoded, err := DecodePublicKey(encoded)
		assert.Nil(err)
		assert.True(privateKey.PublicKey.Equal(decoded))

		jwkData, err := PublicJWK(&privateKey.PublicKey, keyID)
		assert.Nil(err)
		assert.Contains(string(jwkData), `"kid":"`+keyID+`"`)
		assert.NotContains(string(jwkData), `"d":`)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, _, err := DecodePrivateKey("a.b", "")
		assert.ErrorIs(err, ErrorInvalidKey)
	})
}

func TestPassword(t *testing.T) {
	assert := assert.New(t)

	hash, err := HashPassword("s3cret!", DefaultPasswordParams)
	assert.Nil(err)
	assert.Contains(hash, "$argon2id$v=19$m=65536,t=1,p=4$")

	other, err := HashPassword("s3cret!", DefaultPasswordParams)
	assert.Nil(err)
	assert.NotEqual(hash, other, "salt is per hash")

	ok, err := VerifyPassword("s3cret!", hash)
	assert.Nil(err)
	assert.True(ok)

	ok, err = VerifyPassword("wrong", hash)
	assert.Nil(err)
	assert.False(ok)

	_, err = VerifyPassword("s3cret!", "not-a-hash")
	assert.ErrorIs(err, ErrorInvalidHash)
}

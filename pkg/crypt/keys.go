package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/cespare/xxhash/v2"
	"github.com/rakutentech/jwk-go/jwk"
	"golang.org/x/crypto/argon2"
)

const (
	AlgorithmES256 = "ES256"
	sizeOfSalt     = 16
	sizeOfNonce    = 12
	sizeOfKey      = 32
)

var ErrorInvalidKey = errors.New("invalid key")
var ErrorWrongPassphrase = errors.New("wrong passphrase")

func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating public/private key pair: %w", err)
	}
	return privateKey, nil
}

// KeyID derives a short stable identifier from a public key.
func KeyID(publicKey *ecdsa.PublicKey) string {
	h := xxhash.New()
	h.Write(publicKey.X.Bytes())
	h.Write(publicKey.Y.Bytes())
	return base58.Encode(h.Sum(nil))
}

func toJWK(key interface{}, keyID string) ([]byte, error) {
	ks := jwk.NewSpec(key)
	rawJWK, err := ks.ToJWK()
	if err != nil {
		return nil, fmt.Errorf("creating JWK: %w", err)
	}

	rawJWK.Use = "sig"
	rawJWK.Alg = AlgorithmES256
	rawJWK.Kid = keyID
	if rawJWK.Crv == "" {
		rawJWK.Crv = "P-256"
	}

	keyData, err := rawJWK.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshalling JWK: %w", err)
	}
	return keyData, nil
}

// PublicJWK returns the JSON web key of a public key.
func PublicJWK(publicKey *ecdsa.PublicKey, keyID string) ([]byte, error) {
	return toJWK(publicKey, keyID)
}

// EncodePrivateKey serialises a private key as a JWK. With a passphrase the
// JWK is sealed with AES-GCM under an argon2id derived key and encoded as
// salt.nonce.ciphertext; without one it is plain base64.
func EncodePrivateKey(privateKey *ecdsa.PrivateKey, keyID string, passphrase string) (string, error) {
	keyData, err := toJWK(privateKey, keyID)
	if err != nil {
		return "", err
	}

	if passphrase == "" {
		return base64.StdEncoding.EncodeToString(keyData), nil
	}

	salt := make([]byte, sizeOfSalt)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("creating salt: %w", err)
	}

	aesgcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, sizeOfNonce)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("creating AES nonce: %w", err)
	}

	ciphertext := aesgcm.Seal(nil, nonce, keyData, nil)
	sb := strings.Builder{}
	sb.WriteString(base64.StdEncoding.EncodeToString(salt))
	sb.WriteRune('.')
	sb.WriteString(base64.StdEncoding.EncodeToString(nonce))
	sb.WriteRune('.')
	sb.WriteString(base64.StdEncoding.EncodeToString(ciphertext))

	return sb.String(), nil
}

func DecodePrivateKey(encoded string, passphrase string) (*ecdsa.PrivateKey, string, error) {
	parts := strings.Split(strings.TrimSpace(encoded), ".")

	var keyData []byte
	switch len(parts) {
	case 1:
		data, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, "", fmt.Errorf("decoding private key: %w", err)
		}
		keyData = data
	case 3:
		salt, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, "", fmt.Errorf("decoding salt: %w", err)
		}
		nonce, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, "", fmt.Errorf("decoding nonce: %w", err)
		}
		ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return nil, "", fmt.Errorf("decoding ciphertext: %w", err)
		}

		aesgcm, err := newGCM(passphrase, salt)
		if err != nil {
			return nil, "", err
		}

		keyData, err = aesgcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, "", ErrorWrongPassphrase
		}
	default:
		return nil, "", ErrorInvalidKey
	}

	keySpec, err := jwk.Parse(string(keyData))
	if err != nil {
		return nil, "", fmt.Errorf("parsing private key: %w", err)
	}

	privateKey, ok := keySpec.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, "", ErrorInvalidKey
	}
	return privateKey, keySpec.KeyID, nil
}

func EncodePublicKey(publicKey *ecdsa.PublicKey, keyID string) (string, error) {
	keyData, err := toJWK(publicKey, keyID)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(keyData), nil
}

func DecodePublicKey(publicKey string) (*ecdsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}

	keySpec, err := jwk.Parse(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	key, ok := keySpec.Key.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrorInvalidKey
	}
	return key, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, sizeOfKey)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM cipher: %w", err)
	}
	return aesgcm, nil
}

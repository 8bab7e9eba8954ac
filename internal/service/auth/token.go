package auth

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/store"
	"uk.co.dudmesh.quill/pkg/crypt"
)

// Claims are the session token claims. Status is informational only, the
// store decides access on every request.
type Claims struct {
	Status model.AccountStatus `json:"status"`
	jwt.StandardClaims
}

// Signer issues and verifies ES256 session tokens.
type Signer struct {
	key   *ecdsa.PrivateKey
	keyID string
}

func NewSigner(key *ecdsa.PrivateKey, keyID string) *Signer {
	if keyID == "" {
		keyID = crypt.KeyID(&key.PublicKey)
	}
	return &Signer{
		key:   key,
		keyID: keyID,
	}
}

// LoadSigningKey reads the signing key from keyFile when set. Otherwise the
// latest key in the store is used, generating and saving one on first start.
func LoadSigningKey(ctx context.Context, s *store.Store, keyFile string, passphrase string) (*Signer, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading signing key: %w", err)
		}
		key, keyID, err := crypt.DecodePrivateKey(strings.TrimSpace(string(data)), passphrase)
		if err != nil {
			return nil, fmt.Errorf("decoding signing key: %w", err)
		}
		return NewSigner(key, keyID), nil
	}

	q := s.Queries()
	key, keyID, err := q.LatestSigningKey(ctx, passphrase)
	if err == nil {
		return NewSigner(key, keyID), nil
	}
	if !errors.Is(err, model.ErrorNotFound) {
		return nil, err
	}

	key, err = crypt.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	keyID, err = q.SaveSigningKey(ctx, key, passphrase, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	log.Infof("generated token signing key %s", keyID)

	return NewSigner(key, keyID), nil
}

func (s *Signer) KeyID() string {
	return s.keyID
}

func (s *Signer) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse checks the signature only; expiry and issuer are checked by the
// caller against its own clock.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := &jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodES256.Alg()},
		SkipClaimsValidation: true,
	}

	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if kid, ok := token.Header["kid"].(string); ok && kid != s.keyID {
			return nil, fmt.Errorf("unknown key %s", kid)
		}
		return &s.key.PublicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrorInvalidToken, err)
	}
	return claims, nil
}

// JWKS returns the JSON web key set publishing the verification key.
func (s *Signer) JWKS() ([]byte, error) {
	key, err := crypt.PublicJWK(&s.key.PublicKey, s.keyID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string][]json.RawMessage{"keys": {key}})
}

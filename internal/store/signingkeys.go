package store

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/pkg/crypt"
)

type signingKeyRow struct {
	KID        string    `db:"kid"`
	PrivateKey string    `db:"private_key"`
	CreatedAt  time.Time `db:"created_at"`
}

// LatestSigningKey returns the most recently stored token signing key.
func (q *Queries) LatestSigningKey(ctx context.Context, passphrase string) (*ecdsa.PrivateKey, string, error) {
	row := signingKeyRow{}
	err := q.get(ctx, &row, `select kid, private_key, created_at from signing_key order by created_at desc limit 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", model.ErrorNotFound
		}
		return nil, "", fmt.Errorf("fetching signing key: %w", err)
	}

	key, _, err := crypt.DecodePrivateKey(row.PrivateKey, passphrase)
	if err != nil {
		return nil, "", fmt.Errorf("decoding signing key %s: %w", row.KID, err)
	}
	return key, row.KID, nil
}

func (q *Queries) SaveSigningKey(ctx context.Context, key *ecdsa.PrivateKey, passphrase string, now time.Time) (string, error) {
	kid := crypt.KeyID(&key.PublicKey)
	encoded, err := crypt.EncodePrivateKey(key, kid, passphrase)
	if err != nil {
		return "", fmt.Errorf("encoding signing key: %w", err)
	}

	_, err = q.exec(ctx, `insert into signing_key (kid, private_key, created_at) values (?, ?, ?)`, kid, encoded, now)
	if err != nil {
		return "", fmt.Errorf("saving signing key: %w", err)
	}
	return kid, nil
}

package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/pkg/crypt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open(DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	require.Nil(t, err)
	t.Cleanup(func() { s.Close() })
	require.Nil(t, s.Migrate(context.Background()))
	return s
}

func createAccount(t *testing.T, q *Queries, email, username string) *model.Account {
	t.Helper()
	account := &model.Account{
		Email:        email,
		PasswordHash: "x",
		Confirmed:    true,
		Status:       model.AccountStatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	require.Nil(t, q.CreateAccount(context.Background(), account))
	require.Nil(t, q.CreateProfile(context.Background(), &model.Profile{AccountID: account.ID, Username: username}))
	return account
}

func TestAccounts(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)
	q := s.Queries()

	alice := createAccount(t, q, "alice@example.com", "alice")
	assert.True(alice.ID > 0)

	t.Run("Fetch", func(t *testing.T) {
		account, err := q.AccountByEmail(ctx, "alice@example.com")
		assert.Nil(err)
		assert.Equal(alice.ID, account.ID)
		assert.Equal(model.AccountStatusActive, account.Status)
		assert.True(account.Confirmed)

		_, err = q.AccountByID(ctx, 999)
		assert.ErrorIs(err, model.ErrorAccountNotFound)
	})

	t.Run("Unique email", func(t *testing.T) {
		err := q.CreateAccount(ctx, &model.Account{Email: "alice@example.com", PasswordHash: "x", Status: model.AccountStatusActive, CreatedAt: time.Now()})
		assert.ErrorIs(err, model.ErrorDuplicateEmail)
	})

	t.Run("Unique username", func(t *testing.T) {
		bob := &model.Account{Email: "bob@example.com", PasswordHash: "x", Status: model.AccountStatusActive, CreatedAt: time.Now()}
		require.Nil(t, q.CreateAccount(ctx, bob))
		err := q.CreateProfile(ctx, &model.Profile{AccountID: bob.ID, Username: "alice"})
		assert.ErrorIs(err, model.ErrorDuplicateUsername)
	})

	t.Run("Status transition guarded", func(t *testing.T) {
		ok, err := q.UpdateAccountStatus(ctx, alice.ID, model.AccountStatusActive, model.AccountStatusBanned, true, time.Now())
		assert.Nil(err)
		assert.True(ok)

		ok, err = q.UpdateAccountStatus(ctx, alice.ID, model.AccountStatusActive, model.AccountStatusAdmin, true, time.Now())
		assert.Nil(err)
		assert.False(ok)
	})

	t.Run("Cascade", func(t *testing.T) {
		carol := createAccount(t, q, "carol@example.com", "carol")
		post := &model.Post{AuthorID: carol.ID, Title: "t", Body: "b", CreatedAt: time.Now()}
		require.Nil(t, q.CreatePost(ctx, post))

		assert.Nil(q.DeleteAccount(ctx, carol.ID))
		_, err := q.ProfileByUsername(ctx, "carol")
		assert.ErrorIs(err, model.ErrorNotFound)
		_, err = q.PostByID(ctx, post.ID)
		assert.ErrorIs(err, model.ErrorPostNotFound)
	})
}

func TestVerifications(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	q := newTestStore(t).Queries()
	now := time.Now().UTC()

	v := &model.EmailVerification{
		Email:        "dave@example.com",
		Purpose:      model.PurposeRegistration,
		TemporaryKey: "key-1",
		CodeHash:     "hash",
		Status:       model.VerificationStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}
	require.Nil(t, q.CreateVerification(ctx, v))

	t.Run("One pending per email and purpose", func(t *testing.T) {
		dup := *v
		dup.TemporaryKey = "key-2"
		assert.ErrorIs(q.CreateVerification(ctx, &dup), model.ErrorConflict)

		other := *v
		other.TemporaryKey = "key-3"
		other.Purpose = model.PurposePasswordReset
		assert.Nil(q.CreateVerification(ctx, &other))
	})

	t.Run("Attempts never pass the maximum", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			attempts, ok, err := q.IncrementAttempts(ctx, v.ID, 3)
			assert.Nil(err)
			assert.True(ok)
			assert.Equal(i, attempts)
		}
		_, ok, err := q.IncrementAttempts(ctx, v.ID, 3)
		assert.Nil(err)
		assert.False(ok)

		stored, err := q.VerificationByKey(ctx, "key-1")
		assert.Nil(err)
		assert.Equal(3, stored.Attempts)
	})

	t.Run("Reissue waits for the cooldown", func(t *testing.T) {
		r := *v
		r.TemporaryKey = "key-4"
		r.Purpose = model.PurposeEmailConfirmation
		require.Nil(t, q.CreateVerification(ctx, &r))

		later := now.Add(time.Minute)
		ok, err := q.ReissueVerification(ctx, r.ID, "hash-2", later, later.Add(10*time.Minute), now.Add(-time.Second), 3)
		assert.Nil(err)
		assert.False(ok, "issued inside the cooldown")

		ok, err = q.ReissueVerification(ctx, r.ID, "hash-2", later, later.Add(10*time.Minute), now, 3)
		assert.Nil(err)
		assert.True(ok)

		// a second resend racing the first sees the new issue time
		ok, err = q.ReissueVerification(ctx, r.ID, "hash-3", later, later.Add(10*time.Minute), now, 3)
		assert.Nil(err)
		assert.False(ok)

		stored, err := q.VerificationByKey(ctx, "key-4")
		assert.Nil(err)
		assert.Equal(1, stored.Resends)
		assert.Equal("hash-2", stored.CodeHash)
	})

	t.Run("Guarded transitions", func(t *testing.T) {
		ok, err := q.TransitionVerification(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusVerified, now)
		assert.Nil(err)
		assert.True(ok)

		ok, err = q.TransitionVerification(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusLocked, now)
		assert.Nil(err)
		assert.False(ok)

		stored, err := q.VerificationByKey(ctx, "key-1")
		assert.Nil(err)
		assert.Equal(model.VerificationStatusVerified, stored.Status)
		assert.NotNil(stored.VerifiedAt)
	})
}

func TestLikes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)
	q := s.Queries()

	erin := createAccount(t, q, "erin@example.com", "erin")
	post := &model.Post{AuthorID: erin.ID, Title: "t", Body: "b", CreatedAt: time.Now()}
	require.Nil(t, q.CreatePost(ctx, post))

	expected := []bool{true, false, true}
	for i, liked := range expected {
		state, err := q.TogglePostLike(ctx, post.ID, erin.ID, time.Now())
		assert.Nil(err)
		assert.Equal(liked, state.Liked, "toggle %d", i)
	}

	fetched, err := q.PostByID(ctx, post.ID)
	assert.Nil(err)
	assert.Equal(1, fetched.Likes)
}

func TestSigningKeys(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	q := newTestStore(t).Queries()

	_, _, err := q.LatestSigningKey(ctx, "pw")
	assert.ErrorIs(err, model.ErrorNotFound)

	key, err := crypt.GenerateSigningKey()
	require.Nil(t, err)
	kid, err := q.SaveSigningKey(ctx, key, "pw", time.Now().UTC())
	assert.Nil(err)

	loaded, loadedKID, err := q.LatestSigningKey(ctx, "pw")
	assert.Nil(err)
	assert.Equal(kid, loadedKID)
	assert.True(key.Equal(loaded))
}

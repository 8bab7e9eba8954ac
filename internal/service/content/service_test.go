package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/store/storetest"
)

type sentNotification struct {
	recipient    model.AccountID
	notification model.Notification
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, recipientID model.AccountID, notification *model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipientID, *notification})
	return nil
}

func (n *recordingNotifier) all() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification{}, n.sent...)
}

type fixture struct {
	service  *service
	notifier *recordingNotifier
	clock    *storetest.Clock
	author   *model.Identity
	reader   *model.Identity
	admin    *model.Identity
}

func newFixture(t *testing.T) *fixture {
	st := storetest.New(t)
	f := &fixture{
		notifier: &recordingNotifier{},
		clock:    &storetest.Clock{T: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.service = New(st, f.notifier, WithClock(f.clock.Now))

	identity := func(email string, status model.AccountStatus) *model.Identity {
		account := &model.Account{Email: email, PasswordHash: "x", Status: status, CreatedAt: f.clock.Now()}
		require.NoError(t, st.Queries().CreateAccount(context.Background(), account))
		return &model.Identity{AccountID: account.ID, Status: status}
	}
	f.author = identity("author@example.com", model.AccountStatusActive)
	f.reader = identity("reader@example.com", model.AccountStatusActive)
	f.admin = identity("admin@example.com", model.AccountStatusAdmin)
	return f
}

func (f *fixture) post(t *testing.T, title string) *model.Post {
	post, err := f.service.CreatePost(context.Background(), f.author, &model.PostParams{Title: title, Body: "body of " + title})
	require.NoError(t, err)
	return post
}

func TestPosts(t *testing.T) {
	ctx := context.Background()

	t.Run("Create, list and page", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t)

		for _, title := range []string{"first", "second", "third"} {
			f.post(t, title)
			f.clock.Advance(time.Minute)
		}
		_, err := f.service.CreatePost(ctx, f.reader, &model.PostParams{Title: "reader's", Body: "hi"})
		require.NoError(t, err)

		all, err := f.service.ListPosts(ctx, model.PostQuery{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal("reader's", all[0].Title)

		mine, err := f.service.ListPosts(ctx, model.PostQuery{AuthorID: f.author.AccountID, Limit: 2})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal("third", mine[0].Title)
		assert.Equal("second", mine[1].Title)

		next, err := f.service.ListPosts(ctx, model.PostQuery{AuthorID: f.author.AccountID, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, next, 1)
		assert.Equal("first", next[0].Title)
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.CreatePost(ctx, f.author, &model.PostParams{Title: "  ", Body: "body"})
		assert.ErrorIs(t, err, model.ErrorValidation)
		_, err = f.service.CreatePost(ctx, f.author, &model.PostParams{Title: "title"})
		assert.ErrorIs(t, err, model.ErrorValidation)
	})

	t.Run("Ownership", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t)
		post := f.post(t, "mine")

		_, err := f.service.UpdatePost(ctx, f.reader, post.ID, &model.PostParams{Title: "hijacked", Body: "x"})
		assert.ErrorIs(err, model.ErrorForbidden)

		updated, err := f.service.UpdatePost(ctx, f.author, post.ID, &model.PostParams{Title: "edited", Body: "new body"})
		require.NoError(t, err)
		assert.Equal("edited", updated.Title)
		assert.NotNil(updated.UpdatedAt)

		assert.ErrorIs(f.service.DeletePost(ctx, f.reader, post.ID), model.ErrorForbidden)
		assert.NoError(f.service.DeletePost(ctx, f.admin, post.ID))

		_, err = f.service.Post(ctx, post.ID)
		assert.ErrorIs(err, model.ErrorPostNotFound)
	})

	t.Run("Banned accounts cannot write", func(t *testing.T) {
		f := newFixture(t)
		banned := &model.Identity{AccountID: f.reader.AccountID, Status: model.AccountStatusBanned}
		_, err := f.service.CreatePost(ctx, banned, &model.PostParams{Title: "t", Body: "b"})
		assert.ErrorIs(t, err, model.ErrorAccountBanned)
	})
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	f := newFixture(t)
	post := f.post(t, "discussed")

	comment, err := f.service.CreateComment(ctx, f.reader, post.ID, " nice post ")
	require.NoError(t, err)
	assert.Equal("nice post", comment.Body)

	_, err = f.service.CreateComment(ctx, f.reader, model.PostID(9999), "lost")
	assert.ErrorIs(err, model.ErrorPostNotFound)

	_, err = f.service.CreateComment(ctx, f.reader, post.ID, "")
	assert.ErrorIs(err, model.ErrorValidation)

	reply, err := f.service.CreateReply(ctx, f.author, comment.ID, "thanks")
	require.NoError(t, err)

	// author replying to their own post's comment notifies the commenter only
	sent := f.notifier.all()
	require.Len(t, sent, 2)
	assert.Equal(f.author.AccountID, sent[0].recipient)
	assert.Equal(model.NotificationPostCommented, sent[0].notification.Type)
	assert.Equal(f.reader.AccountID, sent[1].recipient)
	assert.Equal(model.NotificationCommentReplied, sent[1].notification.Type)
	assert.Equal(comment.ID, sent[1].notification.Comment)

	replies, err := f.service.ListReplies(ctx, comment.ID)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(reply.ID, replies[0].ID)

	assert.ErrorIs(f.service.DeleteReply(ctx, f.reader, reply.ID), model.ErrorForbidden)
	assert.NoError(f.service.DeleteReply(ctx, f.author, reply.ID))

	assert.ErrorIs(f.service.DeleteComment(ctx, f.author, comment.ID), model.ErrorForbidden)
	assert.NoError(f.service.DeleteComment(ctx, f.admin, comment.ID))

	comments, err := f.service.ListComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(comments)
}

func TestLikes(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	f := newFixture(t)
	post := f.post(t, "liked")

	state, err := f.service.TogglePostLike(ctx, f.reader, post.ID)
	require.NoError(t, err)
	assert.Equal(model.LikeState{Liked: true, Count: 1}, *state)

	state, err = f.service.TogglePostLike(ctx, f.admin, post.ID)
	require.NoError(t, err)
	assert.Equal(model.LikeState{Liked: true, Count: 2}, *state)

	state, err = f.service.TogglePostLike(ctx, f.reader, post.ID)
	require.NoError(t, err)
	assert.Equal(model.LikeState{Liked: false, Count: 1}, *state)

	loaded, err := f.service.Post(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(1, loaded.Likes)

	// unliking does not notify, neither does liking your own post
	_, err = f.service.TogglePostLike(ctx, f.author, post.ID)
	require.NoError(t, err)
	assert.Len(f.notifier.all(), 2)

	comment, err := f.service.CreateComment(ctx, f.author, post.ID, "self comment")
	require.NoError(t, err)
	state, err = f.service.ToggleCommentLike(ctx, f.reader, comment.ID)
	require.NoError(t, err)
	assert.True(state.Liked)

	sent := f.notifier.all()
	require.Len(t, sent, 3)
	assert.Equal(model.NotificationCommentLiked, sent[2].notification.Type)

	_, err = f.service.TogglePostLike(ctx, f.reader, model.PostID(9999))
	assert.ErrorIs(err, model.ErrorPostNotFound)
	_, err = f.service.ToggleCommentLike(ctx, f.reader, model.CommentID(9999))
	assert.ErrorIs(err, model.ErrorCommentNotFound)
}

package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Notifier delivers content events to the account they concern.
type Notifier interface {
	Notify(ctx context.Context, recipientID model.AccountID, notification *model.Notification) error
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

type service struct {
	store    *store.Store
	notifier Notifier
	now      func() time.Time
}

func New(store *store.Store, notifier Notifier, opts ...Option) *service {
	s := &service{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreatePost(ctx context.Context, actor *model.Identity, params *model.PostParams) (*model.Post, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	if err := validatePost(params); err != nil {
		return nil, err
	}

	post := &model.Post{
		AuthorID:  actor.AccountID,
		Title:     params.Title,
		Body:      params.Body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Queries().CreatePost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// Post returns a post with its counts and attached media.
func (s *service) Post(ctx context.Context, id model.PostID) (*model.Post, error) {
	q := s.store.Queries()
	post, err := q.PostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	post.Media, err = q.ListPostMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// ListPosts pages through posts newest first.
func (s *service) ListPosts(ctx context.Context, query model.PostQuery) ([]model.Post, error) {
	if query.Limit <= 0 {
		query.Limit = defaultPageSize
	}
	if query.Limit > maxPageSize {
		query.Limit = maxPageSize
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	return s.store.Queries().ListPosts(ctx, query)
}

// UpdatePost is limited to the author.
func (s *service) UpdatePost(ctx context.Context, actor *model.Identity, id model.PostID, params *model.PostParams) (*model.Post, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	if err := validatePost(params); err != nil {
		return nil, err
	}

	var post *model.Post
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		post, err = q.PostByID(ctx, id)
		if err != nil {
			return err
		}
		if post.AuthorID != actor.AccountID {
			return model.ErrorForbidden
		}
		now := s.now().UTC()
		if err := q.UpdatePost(ctx, id, params, now); err != nil {
			return err
		}
		post.Title = params.Title
		post.Body = params.Body
		post.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *service) DeletePost(ctx context.Context, actor *model.Identity, id model.PostID) error {
	return s.store.InTx(ctx, func(q *store.Queries) error {
		post, err := q.PostByID(ctx, id)
		if err != nil {
			return err
		}
		if err := canModerate(actor, post.AuthorID); err != nil {
			return err
		}
		return q.DeletePost(ctx, id)
	})
}

func (s *service) CreateComment(ctx context.Context, actor *model.Identity, postID model.PostID, body string) (*model.Comment, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	body, err := validateBody(body, 2000)
	if err != nil {
		return nil, err
	}

	comment := &model.Comment{
		PostID:    postID,
		AuthorID:  actor.AccountID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}

	var post *model.Post
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if post, err = q.PostByID(ctx, postID); err != nil {
			return err
		}
		return q.CreateComment(ctx, comment)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, actor, post.AuthorID, &model.Notification{
		Type:    model.NotificationPostCommented,
		ActorID: actor.AccountID,
		PostID:  postID,
		Comment: comment.ID,
	})
	return comment, nil
}

func (s *service) ListComments(ctx context.Context, postID model.PostID) ([]model.Comment, error) {
	q := s.store.Queries()
	if _, err := q.PostByID(ctx, postID); err != nil {
		return nil, err
	}
	return q.ListComments(ctx, postID)
}

func (s *service) DeleteComment(ctx context.Context, actor *model.Identity, id model.CommentID) error {
	return s.store.InTx(ctx, func(q *store.Queries) error {
		comment, err := q.CommentByID(ctx, id)
		if err != nil {
			return err
		}
		if err := canModerate(actor, comment.AuthorID); err != nil {
			return err
		}
		return q.DeleteComment(ctx, id)
	})
}

func (s *service) CreateReply(ctx context.Context, actor *model.Identity, commentID model.CommentID, body string) (*model.CommentReply, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	body, err := validateBody(body, 2000)
	if err != nil {
		return nil, err
	}

	reply := &model.CommentReply{
		CommentID: commentID,
		AuthorID:  actor.AccountID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}

	var comment *model.Comment
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if comment, err = q.CommentByID(ctx, commentID); err != nil {
			return err
		}
		return q.CreateReply(ctx, reply)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, actor, comment.AuthorID, &model.Notification{
		Type:    model.NotificationCommentReplied,
		ActorID: actor.AccountID,
		PostID:  comment.PostID,
		Comment: commentID,
	})
	return reply, nil
}

func (s *service) ListReplies(ctx context.Context, commentID model.CommentID) ([]model.CommentReply, error) {
	q := s.store.Queries()
	if _, err := q.CommentByID(ctx, commentID); err != nil {
		return nil, err
	}
	return q.ListReplies(ctx, commentID)
}

func (s *service) DeleteReply(ctx context.Context, actor *model.Identity, id model.ReplyID) error {
	return s.store.InTx(ctx, func(q *store.Queries) error {
		reply, err := q.ReplyByID(ctx, id)
		if err != nil {
			return err
		}
		if err := canModerate(actor, reply.AuthorID); err != nil {
			return err
		}
		return q.DeleteReply(ctx, id)
	})
}

// TogglePostLike likes the post when the actor has not, and unlikes it
// otherwise.
func (s *service) TogglePostLike(ctx context.Context, actor *model.Identity, postID model.PostID) (*model.LikeState, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}

	var post *model.Post
	var state *model.LikeState
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if post, err = q.PostByID(ctx, postID); err != nil {
			return err
		}
		state, err = q.TogglePostLike(ctx, postID, actor.AccountID, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	if state.Liked {
		s.notify(ctx, actor, post.AuthorID, &model.Notification{
			Type:    model.NotificationPostLiked,
			ActorID: actor.AccountID,
			PostID:  postID,
		})
	}
	return state, nil
}

func (s *service) ToggleCommentLike(ctx context.Context, actor *model.Identity, commentID model.CommentID) (*model.LikeState, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}

	var comment *model.Comment
	var state *model.LikeState
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if comment, err = q.CommentByID(ctx, commentID); err != nil {
			return err
		}
		state, err = q.ToggleCommentLike(ctx, commentID, actor.AccountID, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	if state.Liked {
		s.notify(ctx, actor, comment.AuthorID, &model.Notification{
			Type:    model.NotificationCommentLiked,
			ActorID: actor.AccountID,
			PostID:  comment.PostID,
			Comment: commentID,
		})
	}
	return state, nil
}

// notify is best effort: the content change has already been committed.
func (s *service) notify(ctx context.Context, actor *model.Identity, recipientID model.AccountID, notification *model.Notification) {
	if s.notifier == nil || recipientID == actor.AccountID {
		return
	}
	if err := s.notifier.Notify(ctx, recipientID, notification); err != nil {
		log.Warnf("notifying account %d of %s: %+v", recipientID, notification.Type, err)
	}
}

func canWrite(actor *model.Identity) error {
	if actor == nil {
		return model.ErrorUnauthorized
	}
	if actor.Status == model.AccountStatusBanned {
		return model.ErrorAccountBanned
	}
	return nil
}

func canModerate(actor *model.Identity, authorID model.AccountID) error {
	if err := canWrite(actor); err != nil {
		return err
	}
	if actor.AccountID != authorID && actor.Status != model.AccountStatusAdmin {
		return model.ErrorForbidden
	}
	return nil
}

func validatePost(params *model.PostParams) error {
	params.Title = strings.TrimSpace(params.Title)
	err := validation.ValidateStruct(params,
		validation.Field(&params.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&params.Body, validation.Required, validation.Length(1, 20000)),
	)
	if err != nil {
		return &model.ValidationError{Err: err}
	}
	return nil
}

func validateBody(body string, limit int) (string, error) {
	body = strings.TrimSpace(body)
	if err := validation.Validate(body, validation.Required, validation.Length(1, limit)); err != nil {
		return "", &model.ValidationError{Err: fmt.Errorf("body: %w", err)}
	}
	return body, nil
}

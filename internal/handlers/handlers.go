// Package handlers exposes the services over HTTP and websockets.
package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/service/media"
)

type VerificationService interface {
	RequestCode(ctx context.Context, email string, purpose model.VerificationPurpose) (string, error)
	ConfirmCode(ctx context.Context, key string, code string) (*model.EmailVerification, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Identity, error)
}

type AuthService interface {
	Authenticator
	Register(ctx context.Context, params *model.RegisterParams) (*model.Account, error)
	Login(ctx context.Context, email string, password string) (string, *model.Account, error)
	ResetPassword(ctx context.Context, key string, password string) error
	ConfirmEmail(ctx context.Context, key string) (*model.Account, error)
	ChangePassword(ctx context.Context, id model.AccountID, current string, password string) error
	Account(ctx context.Context, id model.AccountID) (*model.Account, error)
	Profile(ctx context.Context, username string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, id model.AccountID, params *model.UpdateProfileParams) (*model.Profile, error)
	DeleteAccount(ctx context.Context, id model.AccountID) error
	SubmitAppeal(ctx context.Context, identity *model.Identity, body string) (*model.Appeal, error)
	ListAppeals(ctx context.Context, actor *model.Identity, limit, offset int) ([]model.Appeal, error)
	Ban(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error)
	Unban(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error)
	Promote(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error)
	Demote(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error)
}

type ContentService interface {
	CreatePost(ctx context.Context, actor *model.Identity, params *model.PostParams) (*model.Post, error)
	Post(ctx context.Context, id model.PostID) (*model.Post, error)
	ListPosts(ctx context.Context, query model.PostQuery) ([]model.Post, error)
	UpdatePost(ctx context.Context, actor *model.Identity, id model.PostID, params *model.PostParams) (*model.Post, error)
	DeletePost(ctx context.Context, actor *model.Identity, id model.PostID) error
	CreateComment(ctx context.Context, actor *model.Identity, postID model.PostID, body string) (*model.Comment, error)
	ListComments(ctx context.Context, postID model.PostID) ([]model.Comment, error)
	DeleteComment(ctx context.Context, actor *model.Identity, id model.CommentID) error
	CreateReply(ctx context.Context, actor *model.Identity, commentID model.CommentID, body string) (*model.CommentReply, error)
	ListReplies(ctx context.Context, commentID model.CommentID) ([]model.CommentReply, error)
	DeleteReply(ctx context.Context, actor *model.Identity, id model.ReplyID) error
	TogglePostLike(ctx context.Context, actor *model.Identity, postID model.PostID) (*model.LikeState, error)
	ToggleCommentLike(ctx context.Context, actor *model.Identity, commentID model.CommentID) (*model.LikeState, error)
}

type MediaService interface {
	Upload(ctx context.Context, actor *model.Identity, upload *media.Upload) (*model.MediaRef, error)
}

// idParam reads a positive integer path parameter.
func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.ValidationError{Err: fmt.Errorf("%s: must be a positive integer", name)}
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return &model.ValidationError{Err: fmt.Errorf("malformed request: %v", err)}
	}
	return nil
}

type page struct {
	Limit  int
	Offset int
}

func pageParams(c echo.Context) (page, error) {
	p := page{}
	err := echo.QueryParamsBinder(c).
		Int("limit", &p.Limit).
		Int("offset", &p.Offset).
		BindError()
	if err != nil {
		return p, &model.ValidationError{Err: fmt.Errorf("malformed query: %v", err)}
	}
	return p, nil
}

package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.quill/internal/model"
)

type bodyRequest struct {
	Body string `json:"body"`
}

func ListPosts(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := pageParams(c)
		if err != nil {
			return err
		}
		var author int64
		if err := echo.QueryParamsBinder(c).Int64("author", &author).BindError(); err != nil {
			return &model.ValidationError{Err: fmt.Errorf("malformed query: %v", err)}
		}
		posts, err := content.ListPosts(c.Request().Context(), model.PostQuery{
			AuthorID: model.AccountID(author),
			Limit:    p.Limit,
			Offset:   p.Offset,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, posts)
	}
}

func CreatePost(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.PostParams{}
		if err := bind(c, params); err != nil {
			return err
		}
		post, err := content.CreatePost(c.Request().Context(), IdentityFrom(c), params)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, post)
	}
}

func GetPost(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		post, err := content.Post(c.Request().Context(), model.PostID(id))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, post)
	}
}

func UpdatePost(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		params := &model.PostParams{}
		if err := bind(c, params); err != nil {
			return err
		}
		post, err := content.UpdatePost(c.Request().Context(), IdentityFrom(c), model.PostID(id), params)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, post)
	}
}

func DeletePost(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		if err := content.DeletePost(c.Request().Context(), IdentityFrom(c), model.PostID(id)); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func ListComments(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		comments, err := content.ListComments(c.Request().Context(), model.PostID(id))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, comments)
	}
}

func CreateComment(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		req := &bodyRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		comment, err := content.CreateComment(c.Request().Context(), IdentityFrom(c), model.PostID(id), req.Body)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, comment)
	}
}

func DeleteComment(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		if err := content.DeleteComment(c.Request().Context(), IdentityFrom(c), model.CommentID(id)); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func ListReplies(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		replies, err := content.ListReplies(c.Request().Context(), model.CommentID(id))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, replies)
	}
}

func CreateReply(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		req := &bodyRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		reply, err := content.CreateReply(c.Request().Context(), IdentityFrom(c), model.CommentID(id), req.Body)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, reply)
	}
}

func DeleteReply(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		if err := content.DeleteReply(c.Request().Context(), IdentityFrom(c), model.ReplyID(id)); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func LikePost(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		state, err := content.TogglePostLike(c.Request().Context(), IdentityFrom(c), model.PostID(id))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, state)
	}
}

func LikeComment(content ContentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		state, err := content.ToggleCommentLike(c.Request().Context(), IdentityFrom(c), model.CommentID(id))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, state)
	}
}

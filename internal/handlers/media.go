package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/service/media"
)

// UploadMedia stores the multipart "file" field as the given "kind",
// attaching it to "postId" for post media.
func UploadMedia(uploads MediaService) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind := model.MediaKind(c.FormValue("kind"))
		limit, ok := media.Limit(kind)
		if !ok {
			return &model.ValidationError{Err: fmt.Errorf("kind: unknown media kind %q", kind)}
		}

		var postID int64
		if value := c.FormValue("postId"); value != "" {
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil || id <= 0 {
				return &model.ValidationError{Err: errors.New("postId: must be a positive integer")}
			}
			postID = id
		}

		header, err := c.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return &model.ValidationError{Err: errors.New("file: required")}
			}
			return fmt.Errorf("reading multipart form: %w", err)
		}
		if header.Size > limit {
			return fmt.Errorf("%w: %s files are limited to %d bytes", model.ErrorPayloadTooLarge, kind, limit)
		}

		file, err := header.Open()
		if err != nil {
			return fmt.Errorf("opening upload: %w", err)
		}
		defer file.Close()

		ref, err := uploads.Upload(c.Request().Context(), IdentityFrom(c), &media.Upload{
			Kind:        kind,
			ContentType: header.Header.Get(echo.HeaderContentType),
			Size:        header.Size,
			Body:        file,
			PostID:      model.PostID(postID),
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, ref)
	}
}

package media

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/oklog/ulid/v2"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/store"
)

const sniffLen = 512

type rule struct {
	types []string
	limit int64
}

var imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var rules = map[model.MediaKind]rule{
	model.MediaKindAvatar:    {types: imageTypes, limit: 5 << 20},
	model.MediaKindPostImage: {types: imageTypes, limit: 10 << 20},
	model.MediaKindPostVideo: {types: []string{"video/mp4", "video/webm"}, limit: 100 << 20},
	model.MediaKindPostAudio: {types: []string{"audio/mpeg", "audio/ogg", "audio/wav"}, limit: 20 << 20},
}

// sniffed lists what content detection reports for each accepted type.
var sniffed = map[string][]string{
	"image/jpeg": {"image/jpeg"},
	"image/png":  {"image/png"},
	"image/gif":  {"image/gif"},
	"image/webp": {"image/webp"},
	"video/mp4":  {"video/mp4"},
	"video/webm": {"video/webm"},
	// mp3 without an ID3 tag has no signature
	"audio/mpeg": {"audio/mpeg", "application/octet-stream"},
	"audio/ogg":  {"application/ogg", "audio/ogg"},
	"audio/wav":  {"audio/wave", "audio/wav"},
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
	"audio/mpeg": ".mp3",
	"audio/ogg":  ".ogg",
	"audio/wav":  ".wav",
}

// Limit returns the size limit for kind.
func Limit(kind model.MediaKind) (int64, bool) {
	r, ok := rules[kind]
	return r.limit, ok
}

// MaxLimit is the largest size limit of any kind.
func MaxLimit() int64 {
	var limit int64
	for _, r := range rules {
		limit = max(limit, r.limit)
	}
	return limit
}

// Upload is a file received from a client.
type Upload struct {
	Kind        model.MediaKind
	ContentType string
	Size        int64
	Body        io.ReadSeeker
	PostID      model.PostID
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
	store   *store.Store
	storage Storage
	now     func() time.Time
}

func New(store *store.Store, storage Storage, opts ...Option) *service {
	s := &service{
		store:   store,
		storage: storage,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates and stores a file. Avatars replace the caller's profile
// avatar; post media is attached to a post the caller wrote.
func (s *service) Upload(ctx context.Context, actor *model.Identity, upload *Upload) (*model.MediaRef, error) {
	if actor == nil {
		return nil, model.ErrorUnauthorized
	}
	if actor.Status == model.AccountStatusBanned {
		return nil, model.ErrorAccountBanned
	}

	contentType, err := s.check(upload)
	if err != nil {
		return nil, err
	}

	q := s.store.Queries()
	var previousAvatar string
	if upload.Kind == model.MediaKindAvatar {
		profile, err := q.ProfileByAccount(ctx, actor.AccountID)
		if err != nil {
			return nil, err
		}
		previousAvatar = profile.Avatar
	} else {
		if upload.PostID <= 0 {
			return nil, &model.ValidationError{Err: errors.New("postId: required for post media")}
		}
		post, err := q.PostByID(ctx, upload.PostID)
		if err != nil {
			return nil, err
		}
		if post.AuthorID != actor.AccountID {
			return nil, model.ErrorForbidden
		}
	}

	now := s.now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	ref := &model.MediaRef{
		Path:        fmt.Sprintf("%s/%s%s", upload.Kind, id, extensions[contentType]),
		ContentType: contentType,
		Size:        upload.Size,
	}

	var thumb []byte
	if isImage(contentType) {
		thumb, err = thumbnail(upload.Body)
		if err != nil {
			log.Warnf("rejecting %s upload from %d: %+v", contentType, actor.AccountID, err)
			return nil, fmt.Errorf("%w: unreadable image", model.ErrorUnsupportedMediaType)
		}
		if _, err := upload.Body.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewinding upload: %w", err)
		}
	}

	if err := s.storage.Put(ctx, ref.Path, contentType, upload.Body, upload.Size); err != nil {
		return nil, err
	}
	stored := []string{ref.Path}

	if thumb != nil {
		ref.ThumbnailPath = fmt.Sprintf("%s/thumbs/%s.jpg", upload.Kind, id)
		if err := s.storage.Put(ctx, ref.ThumbnailPath, "image/jpeg", bytes.NewReader(thumb), int64(len(thumb))); err != nil {
			s.discard(ctx, stored...)
			return nil, err
		}
		stored = append(stored, ref.ThumbnailPath)
	}

	if upload.Kind == model.MediaKindAvatar {
		err = q.UpdateAvatar(ctx, actor.AccountID, ref.Path)
	} else {
		err = q.CreatePostMedia(ctx, &model.PostMedia{
			PostID:        upload.PostID,
			Kind:          upload.Kind,
			Path:          ref.Path,
			ThumbnailPath: ref.ThumbnailPath,
			ContentType:   contentType,
			Size:          upload.Size,
			CreatedAt:     now,
		})
	}
	if err != nil {
		s.discard(ctx, stored...)
		return nil, err
	}

	if previousAvatar != "" {
		s.discard(ctx, previousAvatar, thumbnailOf(previousAvatar))
	}

	log.Infof("stored %s %s (%d bytes) for account %d", upload.Kind, ref.Path, upload.Size, actor.AccountID)
	return ref, nil
}

// check validates kind, declared type, size and content, returning the
// normalised content type.
func (s *service) check(upload *Upload) (string, error) {
	r, ok := rules[upload.Kind]
	if !ok {
		return "", &model.ValidationError{Err: fmt.Errorf("kind: unknown media kind %q", upload.Kind)}
	}

	contentType, _, err := mime.ParseMediaType(upload.ContentType)
	if err != nil || !contains(r.types, contentType) {
		return "", fmt.Errorf("%w: %s not accepted for %s", model.ErrorUnsupportedMediaType, upload.ContentType, upload.Kind)
	}

	if upload.Size <= 0 {
		return "", &model.ValidationError{Err: errors.New("file: empty upload")}
	}
	if upload.Size > r.limit {
		return "", fmt.Errorf("%w: %s uploads are limited to %d bytes", model.ErrorPayloadTooLarge, upload.Kind, r.limit)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(upload.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if _, err := upload.Body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding upload: %w", err)
	}

	detected, _, _ := mime.ParseMediaType(http.DetectContentType(head[:n]))
	if !contains(sniffed[contentType], detected) {
		return "", fmt.Errorf("%w: content is %s, declared %s", model.ErrorUnsupportedMediaType, detected, contentType)
	}
	return contentType, nil
}

// discard removes stored files after a later step failed.
func (s *service) discard(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			log.Warnf("removing media %s: %+v", key, err)
		}
	}
}

func thumbnailOf(key string) string {
	base := path.Base(key)
	return path.Dir(key) + "/thumbs/" + strings.TrimSuffix(base, path.Ext(base)) + ".jpg"
}

func isImage(contentType string) bool {
	return contains(imageTypes, contentType)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

package model

import "time"

type MediaKind string

const (
	MediaKindAvatar    MediaKind = "avatar"
	MediaKindPostImage MediaKind = "post_image"
	MediaKindPostVideo MediaKind = "post_video"
	MediaKindPostAudio MediaKind = "post_audio"
)

type PostMedia struct {
	ID            int64     `db:"id" json:"id"`
	PostID        PostID    `db:"post_id" json:"postId"`
	Kind          MediaKind `db:"kind" json:"kind"`
	Path          string    `db:"path" json:"path"`
	ThumbnailPath string    `db:"thumbnail_path" json:"thumbnailPath,omitempty"`
	ContentType   string    `db:"content_type" json:"contentType"`
	Size          int64     `db:"size" json:"size"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// MediaRef is what an upload returns: relative references to the stored file and its thumbnail.
type MediaRef struct {
	Path          string `json:"path"`
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
	ContentType   string `json:"contentType"`
	Size          int64  `json:"size"`
}

package model

import "time"

type PostID int64
type CommentID int64
type ReplyID int64

type Post struct {
	ID        PostID      `db:"id" json:"id"`
	AuthorID  AccountID   `db:"author_id" json:"authorId"`
	Title     string      `db:"title" json:"title"`
	Body      string      `db:"body" json:"body"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt *time.Time  `db:"updated_at" json:"updatedAt,omitempty"`
	Likes     int         `db:"likes" json:"likes"`
	Comments  int         `db:"comments" json:"comments"`
	Media     []PostMedia `db:"-" json:"media,omitempty"`
}

type PostParams struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type PostQuery struct {
	AuthorID AccountID
	Limit    int
	Offset   int
}

type Comment struct {
	ID        CommentID `db:"id" json:"id"`
	PostID    PostID    `db:"post_id" json:"postId"`
	AuthorID  AccountID `db:"author_id" json:"authorId"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	Likes     int       `db:"likes" json:"likes"`
}

type CommentReply struct {
	ID        ReplyID   `db:"id" json:"id"`
	CommentID CommentID `db:"comment_id" json:"commentId"`
	AuthorID  AccountID `db:"author_id" json:"authorId"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// LikeState is the result of a like toggle.
type LikeState struct {
	Liked bool `json:"liked"`
	Count int  `json:"count"`
}

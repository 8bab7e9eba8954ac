package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"uk.co.dudmesh.quill/internal/model"
)

const postSelect = `select p.id, p.author_id, p.title, p.body, p.created_at, p.updated_at,
	(select count(*) from post_like l where l.post_id = p.id) as likes,
	(select count(*) from comment c where c.post_id = p.id) as comments
	from post p`

func (q *Queries) CreatePost(ctx context.Context, post *model.Post) error {
	var id model.PostID
	err := q.get(ctx, &id, `insert into post (author_id, title, body, created_at) values (?, ?, ?, ?) returning id`,
		post.AuthorID, post.Title, post.Body, post.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}
	post.ID = id
	return nil
}

func (q *Queries) PostByID(ctx context.Context, id model.PostID) (*model.Post, error) {
	post := &model.Post{}
	if err := q.get(ctx, post, postSelect+` where p.id = ?`, id); err != nil {
		return nil, fmt.Errorf("fetching post: %w", notFound(err, model.ErrorPostNotFound))
	}
	return post, nil
}

func (q *Queries) ListPosts(ctx context.Context, query model.PostQuery) ([]model.Post, error) {
	sb := strings.Builder{}
	sb.WriteString(postSelect)
	args := []interface{}{}
	if query.AuthorID > 0 {
		sb.WriteString(` where p.author_id = ?`)
		args = append(args, query.AuthorID)
	}
	sb.WriteString(` order by p.created_at desc, p.id desc limit ? offset ?`)
	args = append(args, query.Limit, query.Offset)

	posts := []model.Post{}
	if err := q.selectAll(ctx, &posts, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	return posts, nil
}

func (q *Queries) UpdatePost(ctx context.Context, id model.PostID, params *model.PostParams, now time.Time) error {
	rows, err := q.exec(ctx, `update post set title = ?, body = ?, updated_at = ? where id = ?`,
		params.Title, params.Body, now, id)
	if err != nil {
		return fmt.Errorf("updating post: %w", err)
	}
	if rows != 1 {
		return model.ErrorPostNotFound
	}
	return nil
}

func (q *Queries) DeletePost(ctx context.Context, id model.PostID) error {
	rows, err := q.exec(ctx, `delete from post where id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	if rows != 1 {
		return model.ErrorPostNotFound
	}
	return nil
}

const commentSelect = `select c.id, c.post_id, c.author_id, c.body, c.created_at,
	(select count(*) from comment_like l where l.comment_id = c.id) as likes
	from comment c`

func (q *Queries) CreateComment(ctx context.Context, comment *model.Comment) error {
	var id model.CommentID
	err := q.get(ctx, &id, `insert into comment (post_id, author_id, body, created_at) values (?, ?, ?, ?) returning id`,
		comment.PostID, comment.AuthorID, comment.Body, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	comment.ID = id
	return nil
}

func (q *Queries) CommentByID(ctx context.Context, id model.CommentID) (*model.Comment, error) {
	comment := &model.Comment{}
	if err := q.get(ctx, comment, commentSelect+` where c.id = ?`, id); err != nil {
		return nil, fmt.Errorf("fetching comment: %w", notFound(err, model.ErrorCommentNotFound))
	}
	return comment, nil
}

func (q *Queries) ListComments(ctx context.Context, postID model.PostID) ([]model.Comment, error) {
	comments := []model.Comment{}
	err := q.selectAll(ctx, &comments, commentSelect+` where c.post_id = ? order by c.created_at, c.id`, postID)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	return comments, nil
}

func (q *Queries) DeleteComment(ctx context.Context, id model.CommentID) error {
	rows, err := q.exec(ctx, `delete from comment where id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting comment: %w", err)
	}
	if rows != 1 {
		return model.ErrorCommentNotFound
	}
	return nil
}

func (q *Queries) CreateReply(ctx context.Context, reply *model.CommentReply) error {
	var id model.ReplyID
	err := q.get(ctx, &id, `insert into comment_reply (comment_id, author_id, body, created_at) values (?, ?, ?, ?) returning id`,
		reply.CommentID, reply.AuthorID, reply.Body, reply.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting reply: %w", err)
	}
	reply.ID = id
	return nil
}

func (q *Queries) ReplyByID(ctx context.Context, id model.ReplyID) (*model.CommentReply, error) {
	reply := &model.CommentReply{}
	err := q.get(ctx, reply, `select id, comment_id, author_id, body, created_at from comment_reply where id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("fetching reply: %w", notFound(err, model.ErrorNotFound))
	}
	return reply, nil
}

func (q *Queries) ListReplies(ctx context.Context, commentID model.CommentID) ([]model.CommentReply, error) {
	replies := []model.CommentReply{}
	err := q.selectAll(ctx, &replies, `select id, comment_id, author_id, body, created_at from comment_reply
		where comment_id = ? order by created_at, id`, commentID)
	if err != nil {
		return nil, fmt.Errorf("listing replies: %w", err)
	}
	return replies, nil
}

func (q *Queries) DeleteReply(ctx context.Context, id model.ReplyID) error {
	rows, err := q.exec(ctx, `delete from comment_reply where id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting reply: %w", err)
	}
	if rows != 1 {
		return model.ErrorNotFound
	}
	return nil
}

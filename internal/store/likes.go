package store

import (
	"context"
	"fmt"
	"time"

	"uk.co.dudmesh.quill/internal/model"
)

// TogglePostLike removes the (post, account) like when present and adds it
// otherwise. Run it inside a transaction.
func (q *Queries) TogglePostLike(ctx context.Context, postID model.PostID, accountID model.AccountID, now time.Time) (*model.LikeState, error) {
	return q.toggleLike(ctx, "post_like", "post_id", int64(postID), accountID, now)
}

func (q *Queries) ToggleCommentLike(ctx context.Context, commentID model.CommentID, accountID model.AccountID, now time.Time) (*model.LikeState, error) {
	return q.toggleLike(ctx, "comment_like", "comment_id", int64(commentID), accountID, now)
}

func (q *Queries) toggleLike(ctx context.Context, table, column string, subjectID int64, accountID model.AccountID, now time.Time) (*model.LikeState, error) {
	state := &model.LikeState{}

	rows, err := q.exec(ctx, `delete from `+table+` where `+column+` = ? and account_id = ?`, subjectID, accountID)
	if err != nil {
		return nil, fmt.Errorf("removing like: %w", err)
	}

	if rows == 0 {
		_, err := q.exec(ctx, `insert into `+table+` (`+column+`, account_id, created_at) values (?, ?, ?)`,
			subjectID, accountID, now)
		if err != nil {
			if _, ok := uniqueViolation(err); ok {
				return nil, fmt.Errorf("adding like: %w", model.ErrorConflict)
			}
			return nil, fmt.Errorf("adding like: %w", err)
		}
		state.Liked = true
	}

	if err := q.get(ctx, &state.Count, `select count(*) from `+table+` where `+column+` = ?`, subjectID); err != nil {
		return nil, fmt.Errorf("counting likes: %w", err)
	}
	return state, nil
}

func (q *Queries) CreatePostMedia(ctx context.Context, media *model.PostMedia) error {
	var id int64
	err := q.get(ctx, &id, `insert into post_media
		(post_id, kind, path, thumbnail_path, content_type, size, created_at)
		values (?, ?, ?, ?, ?, ?, ?) returning id`,
		media.PostID, media.Kind, media.Path, media.ThumbnailPath, media.ContentType, media.Size, media.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting post media: %w", err)
	}
	media.ID = id
	return nil
}

func (q *Queries) ListPostMedia(ctx context.Context, postID model.PostID) ([]model.PostMedia, error) {
	media := []model.PostMedia{}
	err := q.selectAll(ctx, &media, `select id, post_id, kind, path, thumbnail_path, content_type, size, created_at
		from post_media where post_id = ? order by id`, postID)
	if err != nil {
		return nil, fmt.Errorf("listing post media: %w", err)
	}
	return media, nil
}

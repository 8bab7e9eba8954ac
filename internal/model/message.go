package model

import (
	"encoding/json"
	"time"
)

type RelayChannel string

const (
	RelayChannelChat          RelayChannel = "chat"
	RelayChannelNotifications RelayChannel = "notifications"
)

func (c RelayChannel) Valid() bool {
	return c == RelayChannelChat || c == RelayChannelNotifications
}

// Envelope is a single relayed message.
type Envelope struct {
	ID          string          `json:"id"`
	Channel     RelayChannel    `json:"channel"`
	SenderID    AccountID       `json:"senderId"`
	RecipientID AccountID       `json:"recipientId"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Notification payloads emitted by the content service.
type NotificationType string

const (
	NotificationPostLiked      NotificationType = "post_liked"
	NotificationCommentLiked   NotificationType = "comment_liked"
	NotificationPostCommented  NotificationType = "post_commented"
	NotificationCommentReplied NotificationType = "comment_replied"
)

type Notification struct {
	Type    NotificationType `json:"type"`
	ActorID AccountID        `json:"actorId"`
	PostID  PostID           `json:"postId,omitempty"`
	Comment CommentID        `json:"commentId,omitempty"`
}

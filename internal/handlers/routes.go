package handlers

import (
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/relay"
	"uk.co.dudmesh.quill/internal/service/auth"
)

type Services struct {
	Verifications VerificationService
	Accounts      AuthService
	Content       ContentService
	Media         MediaService
	Signer        *auth.Signer
	Hub           *relay.Hub
	Upgrader      *websocket.Upgrader
}

// Routes registers the API on e. Authenticated routes carry their own
// middleware so that unknown paths stay 404 for anonymous callers.
func Routes(e *echo.Echo, s *Services, opts AuthOptions) {
	if opts.AllowBanned == nil {
		opts.AllowBanned = BannedAllowList
	}
	if s.Upgrader == nil {
		s.Upgrader = NewUpgrader([]string{"*"})
	}
	authed := Authenticate(s.Accounts, opts)

	e.GET("/.well-known/jwks.json", JWKS(s.Signer))

	e.POST("/api/verifications", RequestVerification(s.Verifications))
	e.POST("/api/verifications/confirm", ConfirmVerification(s.Verifications))
	e.POST("/api/accounts", Register(s.Accounts))
	e.POST("/api/accounts/confirm-email", ConfirmEmail(s.Accounts))
	e.POST("/api/sessions", Login(s.Accounts))
	e.POST("/api/passwords/reset", ResetPassword(s.Accounts))
	e.GET("/api/profiles/:username", GetProfile(s.Accounts))

	e.GET("/api/account", GetAccount(s.Accounts), authed)
	e.PUT("/api/account/profile", UpdateProfile(s.Accounts), authed)
	e.PUT("/api/account/password", ChangePassword(s.Accounts), authed)
	e.DELETE("/api/account", DeleteAccount(s.Accounts), authed)
	e.POST("/api/appeals", SubmitAppeal(s.Accounts), authed)

	e.GET("/api/admin/appeals", ListAppeals(s.Accounts), authed, RequireAdmin)
	for _, action := range []string{"ban", "unban", "promote", "demote"} {
		e.POST("/api/admin/accounts/:id/"+action, Transition(s.Accounts, action), authed, RequireAdmin)
	}

	e.GET("/api/posts", ListPosts(s.Content))
	e.GET("/api/posts/:id", GetPost(s.Content))
	e.GET("/api/posts/:id/comments", ListComments(s.Content))
	e.GET("/api/comments/:id/replies", ListReplies(s.Content))

	e.POST("/api/posts", CreatePost(s.Content), authed)
	e.PUT("/api/posts/:id", UpdatePost(s.Content), authed)
	e.DELETE("/api/posts/:id", DeletePost(s.Content), authed)
	e.POST("/api/posts/:id/comments", CreateComment(s.Content), authed)
	e.POST("/api/posts/:id/like", LikePost(s.Content), authed)
	e.DELETE("/api/comments/:id", DeleteComment(s.Content), authed)
	e.POST("/api/comments/:id/replies", CreateReply(s.Content), authed)
	e.POST("/api/comments/:id/like", LikeComment(s.Content), authed)
	e.DELETE("/api/replies/:id", DeleteReply(s.Content), authed)

	e.POST("/api/media", UploadMedia(s.Media), authed)

	e.GET("/ws/chat", Relay(s.Hub, model.RelayChannelChat, s.Upgrader), authed)
	e.GET("/ws/notifications", Relay(s.Hub, model.RelayChannelNotifications, s.Upgrader), authed)
}

package handlers

import "github.com/gin-gonic/gin"

// RouteGuards are per-route middleware supplied by the router. Nil entries
// are skipped.
type RouteGuards struct {
	// Auth rejects anonymous callers on write and per-user routes.
	Auth gin.HandlerFunc
	// Idempotent replays or records responses of vote and accept requests.
	Idempotent gin.HandlerFunc
}

func chain(hs ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// Register mounts every endpoint under rg. The zero RouteGuards mounts the
// endpoints unguarded.
func (h *Handlers) Register(rg *gin.RouterGroup, guards RouteGuards) {
	auth := func(final gin.HandlerFunc) []gin.HandlerFunc {
		return chain(guards.Auth, final)
	}
	once := func(final gin.HandlerFunc) []gin.HandlerFunc {
		return chain(guards.Auth, guards.Idempotent, final)
	}

	q := rg.Group("/questions")
	q.POST("", auth(h.CreateQuestion)...)
	q.GET("", h.ListQuestions)
	q.GET("/:id", h.GetQuestion)
	q.PUT("/:id", auth(h.UpdateQuestion)...)
	q.DELETE("/:id", auth(h.DeleteQuestion)...)
	q.POST("/:id/vote", once(h.VoteQuestion)...)
	q.POST("/:id/answers", auth(h.SubmitAnswer)...)
	q.GET("/:id/answers", h.ListAnswers)

	a := rg.Group("/answers")
	a.GET("/:id", h.GetAnswer)
	a.PUT("/:id", auth(h.UpdateAnswer)...)
	a.DELETE("/:id", auth(h.DeleteAnswer)...)
	a.POST("/:id/vote", once(h.VoteAnswer)...)
	a.POST("/:id/accept", once(h.AcceptAnswer)...)

	n := rg.Group("/notifications")
	n.GET("", auth(h.ListNotifications)...)
	n.GET("/stream", auth(h.StreamNotifications)...)
	n.PUT("/read-all", auth(h.MarkAllNotificationsRead)...)
	n.PUT("/:id/read", auth(h.MarkNotificationRead)...)
	n.DELETE("/:id", auth(h.DeleteNotification)...)
}

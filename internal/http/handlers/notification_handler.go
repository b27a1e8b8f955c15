// Notification HTTP handlers.
//
// All endpoints act on the caller's own notifications:
//   - GET    /notifications           (list, unread filter, ETag support)
//   - PUT    /notifications/{id}/read (mark one read)
//   - PUT    /notifications/read-all  (mark all read)
//   - DELETE /notifications/{id}      (delete)
//   - GET    /notifications/stream    (server-sent events)
package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/http/middleware"
)

// ListNotificationsResponse wraps a page of notifications.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

// MarkAllReadResponse reports how many notifications changed state.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated" example:"4"`
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List my notifications
// @Description Newest first. Supports weak ETag via If-None-Match.
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       unread         query   bool    false  "Only unread notifications"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListNotificationsResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	middleware.NoStore(c)

	var unread bool
	if raw := c.Query("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeValidation, "unread must be a boolean")
			return
		}
		unread = v
	}
	page, pageSize := clampPagination(c)

	if h.etags != nil && uid != "" {
		// The filter and page change the body but not the data behind it.
		if key, err := h.etags.NotificationsETag(ctx, uid); err == nil &&
			notModified(c, weakETag(key, strconv.FormatBool(unread), strconv.Itoa(page), strconv.Itoa(pageSize))) {
			return
		}
	}

	items, total, err := h.notifications.ListPage(ctx, uid, unread, page, pageSize)
	if err != nil {
		c.Writer.Header().Del("ETag")
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification read
// @Description The first read time is kept on repeated calls.
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Notification ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.Notification
// @Failure     404  {object}  handlers.ErrorResponse  "Notification not found"
// @Router      /notifications/{id}/read [put]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	n, err := h.notifications.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// MarkAllNotificationsRead godoc
// @ID          markAllNotificationsRead
// @Summary     Mark all my notifications read
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MarkAllReadResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /notifications/read-all [put]
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.notifications.MarkAllRead(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MarkAllReadResponse{Updated: n})
}

// DeleteNotification godoc
// @ID          deleteNotification
// @Summary     Delete a notification
// @Tags        Notifications
// @Security    BearerAuth
// @Param       id   path  string  true  "Notification ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Notification not found"
// @Router      /notifications/{id} [delete]
func (h *Handlers) DeleteNotification(c *gin.Context) {
	if err := h.notifications.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// StreamNotifications godoc
// @ID          streamNotifications
// @Summary     Live notification stream
// @Description Server-sent events. A "ready" event follows subscription; each delivery is sent as an event named after its kind. Comment lines keep idle connections alive. Missed events remain listed by GET /notifications.
// @Tags        Notifications
// @Produce     text/event-stream
// @Security    BearerAuth
// @Success     200  {string}  string  "event stream"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Streaming disabled"
// @Router      /notifications/stream [get]
func (h *Handlers) StreamNotifications(c *gin.Context) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}
	if h.stream == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "streaming disabled")
		return
	}

	sub := h.stream.Subscribe(uid)
	defer sub.Close()

	middleware.NoStore(c)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// Streams outlive the server's WriteTimeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	lg := middleware.LoggerFrom(c)
	lg.Debug().Msg("notification stream opened")
	defer lg.Debug().Msg("notification stream closed")

	tick := time.NewTicker(h.heartbeat)
	defer tick.Stop()

	ctx := c.Request.Context()
	c.SSEvent("ready", gin.H{"user_id": uid})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, open := <-sub.C:
			if !open {
				return false
			}
			c.SSEvent(string(n.Kind), n)
			return true
		case <-tick.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}

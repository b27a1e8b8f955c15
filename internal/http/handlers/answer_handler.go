// Answer HTTP handlers.
//
// This file exposes REST endpoints for answer resources:
//   - GET    /answers/{id}         (fetch)
//   - PUT    /answers/{id}         (edit, author only)
//   - DELETE /answers/{id}         (soft delete, author only)
//   - POST   /answers/{id}/vote    (vote toggle)
//   - POST   /answers/{id}/accept  (accept, question author only)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/http/middleware"
)

// UpdateAnswerRequest is the JSON payload for editing an answer.
type UpdateAnswerRequest struct {
	Content string `json:"content" example:"Edited: use slices.Reverse (Go 1.21+)."`
}

// GetAnswer godoc
// @ID          getAnswer
// @Summary     Fetch an answer
// @Tags        Answers
// @Produce     json
// @Param       id   path  string  true  "Answer ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.Answer
// @Failure     404  {object}  handlers.ErrorResponse  "Answer not found"
// @Router      /answers/{id} [get]
func (h *Handlers) GetAnswer(c *gin.Context) {
	a, err := h.answers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// UpdateAnswer godoc
// @ID          updateAnswer
// @Summary     Edit an answer
// @Tags        Answers
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                        true  "Answer ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateAnswerRequest  true  "New content"
// @Success     200  {object}  domain.Answer
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the author"
// @Failure     404  {object}  handlers.ErrorResponse  "Answer not found"
// @Router      /answers/{id} [put]
func (h *Handlers) UpdateAnswer(c *gin.Context) {
	var req UpdateAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid JSON body")
		return
	}
	a, err := h.answers.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Content)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// DeleteAnswer godoc
// @ID          deleteAnswer
// @Summary     Delete an answer
// @Description Soft-deletes the answer; an accepted answer also clears the question's acceptance.
// @Tags        Answers
// @Security    BearerAuth
// @Param       id   path  string  true  "Answer ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the author"
// @Failure     404  {object}  handlers.ErrorResponse  "Answer not found"
// @Router      /answers/{id} [delete]
func (h *Handlers) DeleteAnswer(c *gin.Context) {
	if err := h.answers.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// VoteAnswer godoc
// @ID          voteAnswer
// @Summary     Toggle a vote on an answer
// @Description Repeating the same vote retracts it; the opposite vote replaces it.
// @Tags        Votes
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    string                true   "Answer ID (UUID)"  format(uuid)
// @Param       Idempotency-Key  header  string                false  "Replay protection key"
// @Param       body             body    handlers.VoteRequest  true   "Vote"
// @Success     200  {object}  handlers.VoteResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Answer not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Conflict"
// @Router      /answers/{id}/vote [post]
func (h *Handlers) VoteAnswer(c *gin.Context) { h.vote(c, domain.EntityAnswer) }

// AcceptAnswer godoc
// @ID          acceptAnswer
// @Summary     Accept an answer
// @Description Only the question author may accept. Accepting the current answer again is a no-op; accepting another switches the acceptance.
// @Tags        Answers
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    string  true   "Answer ID (UUID)"  format(uuid)
// @Param       Idempotency-Key  header  string  false  "Replay protection key"
// @Success     200  {object}  domain.Answer
// @Failure     403  {object}  handlers.ErrorResponse  "Not the question author"
// @Failure     404  {object}  handlers.ErrorResponse  "Answer or question not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Conflict"
// @Router      /answers/{id}/accept [post]
func (h *Handlers) AcceptAnswer(c *gin.Context) {
	ctx := c.Request.Context()
	target, err := h.answers.Get(ctx, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	a, err := h.engine.AcceptAnswer(ctx, target.QuestionID, target.ID, middleware.UserID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

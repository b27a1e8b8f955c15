// Question HTTP handlers.
//
// This file exposes REST endpoints for question resources:
//   - POST   /questions               (create)
//   - GET    /questions               (list, paginated, tag filter, sort)
//   - GET    /questions/{id}          (fetch, counts a view)
//   - PUT    /questions/{id}          (edit, author only)
//   - DELETE /questions/{id}          (soft delete, author only)
//   - POST   /questions/{id}/vote     (vote toggle)
//   - POST   /questions/{id}/answers  (submit answer)
//   - GET    /questions/{id}/answers  (ordered answers, ETag support)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/http/middleware"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

//
// DTOs
//

// QuestionRequest is the JSON payload for creating or editing a question.
type QuestionRequest struct {
	// Title is 1–200 characters after whitespace collapsing.
	Title string `json:"title" binding:"required" example:"How do I reverse a slice in Go?"`
	// Body is the question text.
	Body string `json:"body" binding:"required" example:"I tried a for loop but..."`
	// Tags are lowercased and de-duplicated; at most 10.
	Tags []string `json:"tags" example:"go,slices"`
}

// ListQuestionsResponse wraps a page of questions and pagination information.
type ListQuestionsResponse struct {
	Questions  []domain.QuestionView `json:"questions"`
	Pagination Pagination            `json:"pagination"`
}

// VoteRequest is the JSON payload of a vote toggle.
type VoteRequest struct {
	// Type is "upvote" or "downvote".
	Type string `json:"type" example:"upvote"`
}

// VoteResponse carries the entity's tally after the vote.
type VoteResponse struct {
	VoteCount int `json:"vote_count" example:"3"`
}

// SubmitAnswerRequest is the JSON payload for answering a question.
type SubmitAnswerRequest struct {
	Content string `json:"content" example:"Use slices.Reverse from the standard library."`
}

// ListAnswersResponse is the ordered answer listing of a question.
type ListAnswersResponse struct {
	Answers []domain.AnswerView `json:"answers"`
}

//
// Handlers
//

// CreateQuestion godoc
// @ID          createQuestion
// @Summary     Ask a question
// @Tags        Questions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.QuestionRequest  true  "Question payload"
// @Success     201  {object}  domain.Question
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /questions [post]
func (h *Handlers) CreateQuestion(c *gin.Context) {
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "title and body are required")
		return
	}
	q, err := h.questions.Create(c.Request.Context(), middleware.UserID(c), req.Title, req.Body, req.Tags)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, q)
}

// ListQuestions godoc
// @ID          listQuestions
// @Summary     List questions (paginated)
// @Description Active questions with their vote and answer counts.
// @Tags        Questions
// @Produce     json
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       tag        query  string  false  "Only questions carrying this tag"
// @Param       sort       query  string  false  "created_at | updated_at | views"  default(created_at)
// @Param       order      query  string  false  "asc | desc"  default(desc)
// @Success     200  {object}  handlers.ListQuestionsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /questions [get]
func (h *Handlers) ListQuestions(c *gin.Context) {
	page, pageSize := clampPagination(c)

	sortBy := strings.TrimSpace(c.Query("sort"))
	if !repo.IsQuestionSortKey(sortBy) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "sort must be created_at, updated_at or views")
		return
	}
	var asc bool
	switch strings.ToLower(strings.TrimSpace(c.Query("order"))) {
	case "", "desc":
	case "asc":
		asc = true
	default:
		fail(c, http.StatusBadRequest, ErrCodeValidation, "order must be asc or desc")
		return
	}

	f := repo.QuestionFilter{Tag: c.Query("tag"), SortBy: sortBy, Ascending: asc}
	items, total, err := h.questions.ListPage(c.Request.Context(), f, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListQuestionsResponse{
		Questions:  items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetQuestion godoc
// @ID          getQuestion
// @Summary     Fetch a question
// @Description Returns the question and counts one view.
// @Tags        Questions
// @Produce     json
// @Param       id   path  string  true  "Question ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.QuestionView
// @Failure     404  {object}  handlers.ErrorResponse  "Question not found"
// @Router      /questions/{id} [get]
func (h *Handlers) GetQuestion(c *gin.Context) {
	q, err := h.questions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}

// UpdateQuestion godoc
// @ID          updateQuestion
// @Summary     Edit a question
// @Tags        Questions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                    true  "Question ID (UUID)"  format(uuid)
// @Param       body  body  handlers.QuestionRequest  true  "New content"
// @Success     200  {object}  domain.Question
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the author"
// @Failure     404  {object}  handlers.ErrorResponse  "Question not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Concurrent update"
// @Router      /questions/{id} [put]
func (h *Handlers) UpdateQuestion(c *gin.Context) {
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "title and body are required")
		return
	}
	q, err := h.questions.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Title, req.Body, req.Tags)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}

// DeleteQuestion godoc
// @ID          deleteQuestion
// @Summary     Delete a question
// @Tags        Questions
// @Security    BearerAuth
// @Param       id   path  string  true  "Question ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the author"
// @Failure     404  {object}  handlers.ErrorResponse  "Question not found"
// @Router      /questions/{id} [delete]
func (h *Handlers) DeleteQuestion(c *gin.Context) {
	if err := h.questions.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// VoteQuestion godoc
// @ID          voteQuestion
// @Summary     Toggle a vote on a question
// @Description Repeating the same vote retracts it; the opposite vote replaces it.
// @Tags        Votes
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    string                true   "Question ID (UUID)"  format(uuid)
// @Param       Idempotency-Key  header  string                false  "Replay protection key"
// @Param       body             body    handlers.VoteRequest  true   "Vote"
// @Success     200  {object}  handlers.VoteResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Question not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Conflict"
// @Router      /questions/{id}/vote [post]
func (h *Handlers) VoteQuestion(c *gin.Context) { h.vote(c, domain.EntityQuestion) }

// SubmitAnswer godoc
// @ID          submitAnswer
// @Summary     Answer a question
// @Description Creates a pending answer and notifies the question author.
// @Tags        Answers
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                        true  "Question ID (UUID)"  format(uuid)
// @Param       body  body  handlers.SubmitAnswerRequest  true  "Answer"
// @Success     201  {object}  domain.Answer
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Question not found"
// @Router      /questions/{id}/answers [post]
func (h *Handlers) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid JSON body")
		return
	}
	a, err := h.engine.SubmitAnswer(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Content)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// ListAnswers godoc
// @ID          listAnswers
// @Summary     List answers
// @Description Accepted answer first, then by votes, then oldest first. Supports weak ETag via If-None-Match.
// @Tags        Answers
// @Produce     json
// @Param       id             path    string  true   "Question ID (UUID)"  format(uuid)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListAnswersResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse  "Question not found"
// @Router      /questions/{id}/answers [get]
func (h *Handlers) ListAnswers(c *gin.Context) {
	ctx := c.Request.Context()
	qid := c.Param("id")

	// The validator is computed before the listing, so a write landing in
	// between yields a stale tag and the client refetches once more.
	if h.etags != nil {
		if key, err := h.etags.AnswersETag(ctx, qid); err == nil && notModified(c, weakETag(key)) {
			return
		}
	}

	views, err := h.engine.ListAnswers(ctx, qid)
	if err != nil {
		c.Writer.Header().Del("ETag")
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListAnswersResponse{Answers: views})
}

// vote binds a VoteRequest and applies it to the entity named by :id.
func (h *Handlers) vote(c *gin.Context, entity domain.EntityKind) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid JSON body")
		return
	}
	kind, err := domain.ParseVoteKind(req.Type)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	n, err := h.engine.VoteOn(c.Request.Context(), entity, c.Param("id"), middleware.UserID(c), kind)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, VoteResponse{VoteCount: n})
}

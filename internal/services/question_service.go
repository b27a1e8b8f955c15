// Package services – QuestionService
//
// This file implements QuestionService, the content service for questions.
// It validates and normalizes titles, bodies and tags, enforces author-only
// edits, and decorates listings with derived vote tallies and answer counts.
// Writes go through the UnitOfWork under the question's key so they
// serialize with acceptance on the same question.
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/repo"
	"github.com/tbourn/go-qa-backend/internal/utils"
)

// Content limits for questions.
const (
	DefaultTitleMaxRunes = 200
	DefaultMaxTags       = 10
	maxTagRunes          = 32
)

// QuestionRepo defines the repository contract required by QuestionService.
type QuestionRepo interface {
	CreateQuestion(ctx context.Context, db *gorm.DB, authorID, title, body string, tags []string) (*domain.Question, error)
	GetQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.Question, error)
	CountQuestions(ctx context.Context, db *gorm.DB, f repo.QuestionFilter) (int64, error)
	ListQuestionsPage(ctx context.Context, db *gorm.DB, f repo.QuestionFilter, offset, limit int) ([]domain.Question, error)
	IncrementViews(ctx context.Context, db *gorm.DB, id string) error
	UpdateQuestionContent(ctx context.Context, db *gorm.DB, id string, version int64, title, body string, tags []string) error
	SoftDeleteQuestion(ctx context.Context, db *gorm.DB, id string, version int64) error

	// CountAnswersByQuestion returns active answer counts keyed by question id.
	CountAnswersByQuestion(ctx context.Context, db *gorm.DB, ids []string) (map[string]int64, error)
	// Tallies returns vote tallies keyed by entity id.
	Tallies(ctx context.Context, db *gorm.DB, kind domain.EntityKind, ids []string) (map[string]int, error)
}

// QuestionService provides question CRUD around the consistency engine.
type QuestionService struct {
	UoW  *UnitOfWork
	Repo QuestionRepo

	TitleMaxRunes int
	BodyMaxRunes  int
	MaxTags       int
}

// NewQuestionService constructs a QuestionService with default limits.
func NewQuestionService(uow *UnitOfWork, r QuestionRepo) *QuestionService {
	return &QuestionService{
		UoW:           uow,
		Repo:          r,
		TitleMaxRunes: DefaultTitleMaxRunes,
		BodyMaxRunes:  DefaultMaxBodyRunes,
		MaxTags:       DefaultMaxTags,
	}
}

// Create validates and stores a new question authored by authorID.
func (s *QuestionService) Create(ctx context.Context, authorID, title, body string, tags []string) (*domain.Question, error) {
	tr := otel.Tracer("services/QuestionService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", authorID)))
	defer span.End()

	if strings.TrimSpace(authorID) == "" {
		return nil, fmt.Errorf("%w: authentication required", ErrPermission)
	}
	title, body, tags, err := s.normalize(title, body, tags)
	if err != nil {
		return nil, err
	}
	return s.Repo.CreateQuestion(ctx, s.UoW.DB, authorID, title, body, tags)
}

// ListPage returns a page of active questions with their vote tallies and
// answer counts, plus the total number of matching questions. Answer counts
// come from one grouped query for the whole page.
func (s *QuestionService) ListPage(ctx context.Context, f repo.QuestionFilter, page, pageSize int) ([]domain.QuestionView, int64, error) {
	tr := otel.Tracer("services/QuestionService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
			attribute.String("tag", f.Tag),
		),
	)
	defer span.End()

	page, pageSize = utils.NormalizePage(page, pageSize)
	f.Tag = normalizeTag(f.Tag)

	db := s.UoW.DB
	total, err := s.Repo.CountQuestions(ctx, db, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.QuestionView{}, 0, nil
	}

	items, err := s.Repo.ListQuestionsPage(ctx, db, f, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, 0, err
	}
	views, err := s.decorate(ctx, items)
	return views, total, err
}

// Get returns an active question and records a view.
func (s *QuestionService) Get(ctx context.Context, id string) (*domain.QuestionView, error) {
	tr := otel.Tracer("services/QuestionService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("question.id", id)))
	defer span.End()

	db := s.UoW.DB
	q, err := s.Repo.GetQuestion(ctx, db, id)
	if err != nil {
		return nil, mapNotFound(err, "question")
	}
	if !q.IsActive {
		return nil, fmt.Errorf("%w: question", ErrNotFound)
	}
	if err := s.Repo.IncrementViews(ctx, db, id); err != nil {
		return nil, err
	}
	q.Views++

	views, err := s.decorate(ctx, []domain.Question{*q})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Update replaces the content of a question. Only its author may do so.
func (s *QuestionService) Update(ctx context.Context, userID, id, title, body string, tags []string) (*domain.Question, error) {
	tr := otel.Tracer("services/QuestionService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("question.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: authentication required", ErrPermission)
	}
	title, body, tags, err := s.normalize(title, body, tags)
	if err != nil {
		return nil, err
	}

	var out *domain.Question
	err = s.UoW.Do(ctx, "update_question", "question:"+id, func(ctx context.Context, tx *gorm.DB) error {
		q, err := s.ownedQuestion(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if err := s.Repo.UpdateQuestionContent(ctx, tx, q.ID, q.Version, title, body, tags); err != nil {
			return err
		}
		q.Title, q.Body, q.Tags = title, body, strings.Join(tags, ",")
		q.Version++
		out = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete soft-deletes a question. Only its author may do so. Answers and
// votes are kept but become unreachable with the question.
func (s *QuestionService) Delete(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/QuestionService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("question.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: authentication required", ErrPermission)
	}
	return s.UoW.Do(ctx, "delete_question", "question:"+id, func(ctx context.Context, tx *gorm.DB) error {
		q, err := s.ownedQuestion(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		return s.Repo.SoftDeleteQuestion(ctx, tx, q.ID, q.Version)
	})
}

func (s *QuestionService) ownedQuestion(ctx context.Context, tx *gorm.DB, id, userID string) (*domain.Question, error) {
	q, err := s.Repo.GetQuestion(ctx, tx, id)
	if err != nil {
		return nil, mapNotFound(err, "question")
	}
	if !q.IsActive {
		return nil, fmt.Errorf("%w: question", ErrNotFound)
	}
	if q.AuthorID != userID {
		return nil, fmt.Errorf("%w: only the author can modify this question", ErrPermission)
	}
	return q, nil
}

func (s *QuestionService) decorate(ctx context.Context, qs []domain.Question) ([]domain.QuestionView, error) {
	ids := make([]string, len(qs))
	for i := range qs {
		ids[i] = qs[i].ID
	}
	db := s.UoW.DB
	tallies, err := s.Repo.Tallies(ctx, db, domain.EntityQuestion, ids)
	if err != nil {
		return nil, err
	}
	counts, err := s.Repo.CountAnswersByQuestion(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QuestionView, len(qs))
	for i, q := range qs {
		out[i] = domain.QuestionView{Question: q, VoteCount: tallies[q.ID], AnswerCount: counts[q.ID]}
	}
	return out, nil
}

func (s *QuestionService) normalize(title, body string, tags []string) (string, string, []string, error) {
	title = normalizeTitle(title)
	if title == "" {
		return "", "", nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if s.TitleMaxRunes > 0 && utf8.RuneCountInString(title) > s.TitleMaxRunes {
		return "", "", nil, fmt.Errorf("%w: title exceeds %d characters", ErrValidation, s.TitleMaxRunes)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", "", nil, fmt.Errorf("%w: body is required", ErrValidation)
	}
	if s.BodyMaxRunes > 0 && utf8.RuneCountInString(body) > s.BodyMaxRunes {
		return "", "", nil, fmt.Errorf("%w: body exceeds %d characters", ErrValidation, s.BodyMaxRunes)
	}
	tags, err := normalizeTags(tags, s.MaxTags)
	if err != nil {
		return "", "", nil, err
	}
	return title, body, tags, nil
}

// normalizeTags lowercases, trims and de-duplicates tags, keeping the first
// occurrence order. Empty tags are dropped.
func normalizeTags(in []string, max int) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = normalizeTag(t)
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagRunes {
			return nil, fmt.Errorf("%w: tag %q exceeds %d characters", ErrValidation, t, maxTagRunes)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if max > 0 && len(out) > max {
		return nil, fmt.Errorf("%w: at most %d tags allowed", ErrValidation, max)
	}
	return out, nil
}

// normalizeTag lowercases a tag and strips the separator used in storage.
// A Caser is stateful, so one is built per call.
func normalizeTag(t string) string {
	t = strings.ReplaceAll(t, ",", " ")
	t = whitespaceRE.ReplaceAllString(strings.TrimSpace(t), "-")
	return cases.Lower(language.Und).String(t)
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

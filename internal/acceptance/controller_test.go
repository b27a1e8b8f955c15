package acceptance

import (
	"errors"
	"testing"
)

func TestDecide(t *testing.T) {
	q := QuestionState{ID: "q1", AuthorID: "u1"}
	ans := func(id, author string) AnswerState {
		return AnswerState{ID: id, QuestionID: "q1", AuthorID: author, IsActive: true}
	}

	tests := []struct {
		name      string
		q         QuestionState
		target    AnswerState
		requester string
		want      Plan
		wantErr   error
	}{
		{
			name:      "first acceptance notifies answer author",
			q:         q,
			target:    ans("a1", "u2"),
			requester: "u1",
			want:      Plan{AcceptAnswerID: "a1", Notify: true},
		},
		{
			name:      "own answer accepted without notification",
			q:         q,
			target:    ans("a1", "u1"),
			requester: "u1",
			want:      Plan{AcceptAnswerID: "a1"},
		},
		{
			name:      "switch unsets previous",
			q:         QuestionState{ID: "q1", AuthorID: "u1", AcceptedAnswerID: "a1"},
			target:    ans("a2", "u3"),
			requester: "u1",
			want:      Plan{UnsetAnswerID: "a1", AcceptAnswerID: "a2", Notify: true},
		},
		{
			name:      "re-accept is a no-op",
			q:         QuestionState{ID: "q1", AuthorID: "u1", AcceptedAnswerID: "a1"},
			target:    AnswerState{ID: "a1", QuestionID: "q1", AuthorID: "u2", IsAccepted: true, IsActive: true},
			requester: "u1",
			want:      Plan{Noop: true, AcceptAnswerID: "a1"},
		},
		{
			name:      "pointer set but flag lost is repaired",
			q:         QuestionState{ID: "q1", AuthorID: "u1", AcceptedAnswerID: "a1"},
			target:    ans("a1", "u2"),
			requester: "u1",
			want:      Plan{AcceptAnswerID: "a1", Notify: true},
		},
		{
			name:      "non-author rejected",
			q:         q,
			target:    ans("a1", "u2"),
			requester: "u2",
			wantErr:   ErrPermission,
		},
		{
			name:      "anonymous rejected",
			q:         q,
			target:    ans("a1", "u2"),
			requester: "",
			wantErr:   ErrPermission,
		},
		{
			name:      "answer of another question",
			q:         q,
			target:    AnswerState{ID: "a9", QuestionID: "q2", AuthorID: "u2", IsActive: true},
			requester: "u1",
			wantErr:   ErrNotFound,
		},
		{
			name:      "inactive answer",
			q:         q,
			target:    AnswerState{ID: "a1", QuestionID: "q1", AuthorID: "u2"},
			requester: "u1",
			wantErr:   ErrNotFound,
		},
		{
			name:      "permission checked before existence",
			q:         q,
			target:    AnswerState{ID: "a9", QuestionID: "q2"},
			requester: "u2",
			wantErr:   ErrPermission,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decide(tc.q, tc.target, tc.requester)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v; want %v", err, tc.wantErr)
				}
				if got != (Plan{}) {
					t.Fatalf("expected empty plan on error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got != tc.want {
				t.Fatalf("plan = %+v; want %+v", got, tc.want)
			}
		})
	}
}

// Applying plans in sequence must leave exactly one accepted answer that
// matches the question pointer.
func TestDecide_SequenceKeepsSingleAcceptance(t *testing.T) {
	q := QuestionState{ID: "q1", AuthorID: "u1"}
	answers := map[string]*AnswerState{
		"a1": {ID: "a1", QuestionID: "q1", AuthorID: "u2", IsActive: true},
		"a2": {ID: "a2", QuestionID: "q1", AuthorID: "u3", IsActive: true},
		"a3": {ID: "a3", QuestionID: "q1", AuthorID: "u1", IsActive: true},
	}
	notifications := 0

	for _, id := range []string{"a1", "a1", "a2", "a3", "a3", "a1"} {
		p, err := Decide(q, *answers[id], "u1")
		if err != nil {
			t.Fatalf("accept %s: %v", id, err)
		}
		if p.Noop {
			continue
		}
		if p.UnsetAnswerID != "" {
			answers[p.UnsetAnswerID].IsAccepted = false
		}
		answers[p.AcceptAnswerID].IsAccepted = true
		q.AcceptedAnswerID = p.AcceptAnswerID
		if p.Notify {
			notifications++
		}

		accepted := 0
		for _, a := range answers {
			if a.IsAccepted {
				accepted++
				if a.ID != q.AcceptedAnswerID {
					t.Fatalf("accepted %s but pointer is %s", a.ID, q.AcceptedAnswerID)
				}
			}
		}
		if accepted != 1 {
			t.Fatalf("after accepting %s: %d accepted answers", id, accepted)
		}
	}
	// a1, a2, a1 notify; a3 is the author's own; repeats are no-ops.
	if notifications != 3 {
		t.Fatalf("notifications = %d; want 3", notifications)
	}
	if q.AcceptedAnswerID != "a1" {
		t.Fatalf("final pointer = %s; want a1", q.AcceptedAnswerID)
	}
}

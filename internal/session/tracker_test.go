package session

import (
	"testing"

	"github.com/expertinthecity/internal/model"
)

type recordingPublisher struct {
	calls []string
}

func (r *recordingPublisher) Start(userID string, _ model.Profile) {
	r.calls = append(r.calls, "start:"+userID)
}

func (r *recordingPublisher) Stop(userID string, _ model.Profile) {
	r.calls = append(r.calls, "stop:"+userID)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTransitions(t *testing.T) {
	a := &model.Profile{ID: "a", Name: "A"}
	b := &model.Profile{ID: "b", Name: "B"}
	tests := []struct {
		name  string
		steps []*model.Profile
		want  []string
	}{
		{"login", []*model.Profile{a}, []string{"start:a"}},
		{"login logout", []*model.Profile{a, nil}, []string{"start:a", "stop:a"}},
		{"switch account", []*model.Profile{a, b}, []string{"start:a", "stop:a", "start:b"}},
		{"same user twice", []*model.Profile{a, {ID: "a", Name: "A2"}}, []string{"start:a"}},
		{"anonymous stays quiet", []*model.Profile{nil, nil}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			tr := NewTracker(pub)
			for _, p := range tt.steps {
				tr.SetUser(p)
			}
			if !equal(pub.calls, tt.want) {
				t.Fatalf("calls = %v, want %v", pub.calls, tt.want)
			}
		})
	}
}

func TestCloseStopsAndIgnoresLater(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub)
	tr.SetUser(&model.Profile{ID: "a"})
	tr.Close()
	tr.Close()
	tr.SetUser(&model.Profile{ID: "b"})
	if !equal(pub.calls, []string{"start:a", "stop:a"}) {
		t.Fatalf("calls = %v", pub.calls)
	}
	if tr.User() != nil {
		t.Fatal("user must be cleared")
	}
}

func TestDetachWritesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub)
	tr.SetUser(&model.Profile{ID: "a"})
	tr.Detach()
	tr.Close()
	if !equal(pub.calls, []string{"start:a"}) {
		t.Fatalf("calls = %v", pub.calls)
	}
}

func TestUserReturnsCopy(t *testing.T) {
	tr := NewTracker(&recordingPublisher{})
	tr.SetUser(&model.Profile{ID: "a", Name: "A"})
	u := tr.User()
	u.Name = "changed"
	if tr.User().Name != "A" {
		t.Fatal("User must return a copy")
	}
}

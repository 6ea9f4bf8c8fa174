package fact

import "testing"

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		f    Fact
		want Kind
	}{
		{"tag", Tag("todo"), KindTag},
		{"flag", Flag("todo", "completed"), KindFlag},
		{"value", Value("book", "what", "physio"), KindValue},
		{"ref", Ref("3dd"), KindRef},
		{"content", Content("go to supermarket"), KindContent},
		{"created", Created("2026-01-01T00:00:00Z"), KindCreated},
		{"archived", Archived(), KindArchived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderSurfaceSyntax(t *testing.T) {
	tests := []struct {
		name string
		f    Fact
		want string
	}{
		{"tag", Tag("chores"), "#chores"},
		{"flag", Flag("todo", "waiting"), "#todo/waiting"},
		{"archived flag", Archived(), "#_db/archived"},
		{"bareword value", Value("book", "status", "open"), "#book/status=open"},
		{"ref", Ref("4af"), "@4af"},
		{"content", Content("hello"), "hello"},
		{"quoted value", Value("book", "what", "physio appointment"), "#book/what=[[[ physio appointment ]]]"},
		{"non-alpha value", Value("todo", "due", "2026-08-01"), "#todo/due=[[[ 2026-08-01 ]]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Render(); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestItemAutoAddsTag(t *testing.T) {
	it := New("u1", []Fact{Flag("todo", "waiting")})
	if !it.HasTag("todo") {
		t.Fatalf("expected implied tag %q, got facts %v", "todo", it.Facts)
	}
}

func TestItemMatches(t *testing.T) {
	it := New("u1", []Fact{Content("go to supermarket"), Tag("todo"), Flag("todo", "completed")})

	if !it.Matches(Tag("todo")) {
		t.Error("expected tag match")
	}
	if !it.Matches(Content("SUPERMARKET")) {
		t.Error("expected case-insensitive content match")
	}
	if it.Matches(Tag("chores")) {
		t.Error("unexpected match on absent tag")
	}
}

func TestMatchesClosedUnderExtraFacts(t *testing.T) {
	// adding facts to an item never removes a match
	base := New("u1", []Fact{Content("groceries"), Tag("chores")})
	search := []Fact{Tag("chores")}
	if !base.MatchesAll(search) {
		t.Fatal("expected base match")
	}
	enriched := New("u1", append(append([]Fact{}, base.Facts...), Flag("chores", "done")))
	if !enriched.MatchesAll(search) {
		t.Fatal("adding a fact should never remove a match")
	}
}

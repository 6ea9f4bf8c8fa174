package query

import (
	"testing"

	"github.com/coreutil/factdb/pkg/fact"
)

func mustParse(t *testing.T, input string) *Query {
	t.Helper()
	q, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", input, err)
	}
	return q
}

func TestParseCreateContentWithTags(t *testing.T) {
	q := mustParse(t, "CREATE go to supermarket #todo #todo/completed")
	if q.Action != ActionCreate {
		t.Fatalf("Action = %v, want create", q.Action)
	}
	want := []fact.Fact{
		fact.Content("go to supermarket"),
		fact.Tag("todo"),
		fact.Flag("todo", "completed"),
	}
	if len(q.Facts) != len(want) {
		t.Fatalf("Facts = %v, want %v", q.Facts, want)
	}
	for i := range want {
		if q.Facts[i] != want[i] {
			t.Errorf("Facts[%d] = %v, want %v", i, q.Facts[i], want[i])
		}
	}
}

func TestParseCreateWithLeadingTag(t *testing.T) {
	// open question 3: a tag preceding CREATE folds into the created item.
	q := mustParse(t, "#urgent CREATE fix the leak")
	if q.Action != ActionCreate {
		t.Fatalf("Action = %v, want create", q.Action)
	}
	if q.Facts[0] != fact.Tag("urgent") {
		t.Errorf("expected leading tag preserved, got %v", q.Facts[0])
	}
	if q.Facts[1] != fact.Content("fix the leak") {
		t.Errorf("expected content second, got %v", q.Facts[1])
	}
}

func TestParseCreateRejectsBareTagThenText(t *testing.T) {
	// "CREATE #x This is me" is rejected.
	if _, err := Parse("CREATE #x This is me"); err == nil {
		t.Fatal("expected parse error for tag immediately followed by free text")
	}
}

func TestParseSetContent(t *testing.T) {
	q := mustParse(t, "@3dd SET book appointment at physio")
	if q.Action != ActionSet {
		t.Fatalf("Action = %v, want set", q.Action)
	}
	if q.Facts[0] != fact.Ref("3dd") {
		t.Errorf("Facts[0] = %v, want ref", q.Facts[0])
	}
	if q.Facts[1] != fact.Content("book appointment at physio") {
		t.Errorf("Facts[1] = %v, want content", q.Facts[1])
	}
}

func TestParseDel(t *testing.T) {
	q := mustParse(t, "@4af DEL #book")
	if q.Action != ActionDel {
		t.Fatalf("Action = %v, want del", q.Action)
	}
	if q.Facts[1] != fact.Tag("book") {
		t.Errorf("Facts[1] = %v, want tag book", q.Facts[1])
	}
}

func TestParseHistoryWithAndWithoutRef(t *testing.T) {
	q := mustParse(t, "@f4a HISTORY")
	if q.Action != ActionHistory || len(q.Facts) != 1 {
		t.Fatalf("got %+v", q)
	}
	q2 := mustParse(t, "HISTORY")
	if q2.Action != ActionHistory || len(q2.Facts) != 0 {
		t.Fatalf("got %+v", q2)
	}
}

func TestParseHintsPreservesTrailingSlash(t *testing.T) {
	q := mustParse(t, "HINTS #todo/")
	if q.HintsPrefix != "#todo/" {
		t.Errorf("HintsPrefix = %q, want %q", q.HintsPrefix, "#todo/")
	}
	q2 := mustParse(t, "HINTS #to")
	if q2.HintsPrefix != "#to" {
		t.Errorf("HintsPrefix = %q, want %q", q2.HintsPrefix, "#to")
	}
	q3 := mustParse(t, "HINTS to")
	if q3.HintsPrefix != "#to" {
		t.Errorf("HintsPrefix = %q, want %q (no leading #)", q3.HintsPrefix, "#to")
	}
}

func TestParseChangesetsAndReplicate(t *testing.T) {
	q := mustParse(t, "CHANGESETS")
	if q.Action != ActionChangesets {
		t.Fatalf("Action = %v, want changesets", q.Action)
	}
	q2 := mustParse(t, "REPLICATE")
	if q2.Action != ActionReplicate {
		t.Fatalf("Action = %v, want replicate", q2.Action)
	}
}

func TestParseBareGet(t *testing.T) {
	q := mustParse(t, "@3dd")
	if q.Action != ActionGet || q.Facts[0] != fact.Ref("3dd") {
		t.Fatalf("got %+v", q)
	}
}

func TestParseBareDataList(t *testing.T) {
	q := mustParse(t, "#chores")
	if q.Action != ActionList || q.Facts[0] != fact.Tag("chores") {
		t.Fatalf("got %+v", q)
	}
}

func TestParseBareContentList(t *testing.T) {
	q := mustParse(t, "supermarket #chores")
	if q.Action != ActionList {
		t.Fatalf("Action = %v, want list", q.Action)
	}
	if q.Facts[0] != fact.Content("supermarket") || q.Facts[1] != fact.Tag("chores") {
		t.Fatalf("got %+v", q.Facts)
	}
}

func TestParseMultilineQuotedContent(t *testing.T) {
	q := mustParse(t, "CREATE [[[ multi-line\n content with #hashes allowed ]]] #help")
	if q.Action != ActionCreate {
		t.Fatalf("Action = %v, want create", q.Action)
	}
	if q.Facts[0] != fact.Content("multi-line\n content with #hashes allowed") {
		t.Errorf("got content %v", q.Facts[0])
	}
	if q.Facts[1] != fact.Tag("help") {
		t.Errorf("got trailing %v", q.Facts[1])
	}
}

func TestParseUnclosedQuoteIsError(t *testing.T) {
	if _, err := Parse("CREATE [[[ unterminated"); err == nil {
		t.Fatal("expected parse error for unclosed [[[")
	}
}

func TestParseEmptyQueryIsError(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected parse error for empty query")
	}
	if _, err := Parse("   "); err == nil {
		t.Fatal("expected parse error for whitespace-only query")
	}
}

func TestParseInvalidTagRejected(t *testing.T) {
	// Tags may not start with a digit or be upper-case.
	if _, err := Parse("#Todo"); err == nil {
		t.Fatal("expected error for upper-case tag")
	}
	if _, err := Parse("#1todo"); err == nil {
		t.Fatal("expected error for digit-leading tag")
	}
}

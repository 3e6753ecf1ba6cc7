package guidance

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeSource struct {
	entries map[string]string
	failIDs map[string]bool
	lookups []string
}

func (f *fakeSource) Guidance(ctx context.Context, id string) (string, error) {
	f.lookups = append(f.lookups, id)
	if f.failIDs[id] {
		return "", errors.New("lookup failed")
	}
	return f.entries[id], nil
}

func TestSelectBaselineOnly(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil)
	got := s.Select("bom dia")
	if !reflect.DeepEqual(got, []string{BaselineID}) {
		t.Fatalf("expected baseline only, got %v", got)
	}
}

func TestSelectOrdersByPriority(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil)
	// Matches entrega (30), pagamento (20) and catalogo (10); priority
	// order wins regardless of where the words appear.
	got := s.Select("qual o prazo de entrega e o pagamento dessa cesta?")
	want := []string{BaselineID, "catalogo", "pagamento"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Select() = %v, want %v", got, want)
	}
}

func TestSelectCapsMatches(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil)
	got := s.Select("cesta com pagamento, entrega, horário e uma reclamação")
	if len(got) != 3 {
		t.Fatalf("expected baseline plus two matches, got %v", got)
	}
	if got[0] != BaselineID {
		t.Fatalf("baseline must come first, got %v", got)
	}
}

func TestSelectDeduplicatesRuleIDs(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Patterns: []string{"cesta"}, ID: "catalogo", Priority: 10},
		{Patterns: []string{"produto"}, ID: "catalogo", Priority: 12},
		{Patterns: []string{"pix"}, ID: "pagamento", Priority: 20},
	}
	s := NewSelector(rules)
	got := s.Select("quero uma cesta, algum produto com pix?")
	want := []string{BaselineID, "catalogo", "pagamento"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Select() = %v, want %v", got, want)
	}
}

func TestComposeSkipsFailedLookups(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		entries: map[string]string{
			BaselineID: "Seja cordial.",
			"catalogo": "Apresente até três opções.",
			"entrega":  "Use a cotação de frete.",
		},
		failIDs: map[string]bool{"catalogo": true},
	}

	s := NewSelector(nil)
	got := s.Compose(context.Background(), source, "quanto custa a entrega da cesta?")
	want := "Seja cordial.\n\nUse a cotação de frete."
	if got != want {
		t.Fatalf("Compose() = %q, want %q", got, want)
	}
	if !reflect.DeepEqual(source.lookups, []string{BaselineID, "catalogo", "entrega"}) {
		t.Fatalf("unexpected lookup order: %v", source.lookups)
	}
}

func TestComposeEmptyWhenNothingResolves(t *testing.T) {
	t.Parallel()

	source := &fakeSource{failIDs: map[string]bool{BaselineID: true}}
	s := NewSelector(nil)
	if got := s.Compose(context.Background(), source, "oi"); got != "" {
		t.Fatalf("expected empty guidance, got %q", got)
	}
}

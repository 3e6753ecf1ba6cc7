// Package guidance maps inbound customer text to a small set of
// guidance identifiers and assembles the retrieved texts into the
// contextual prompt for a run.
package guidance

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "atendai/agent/contract"
)

// BaselineID is always retrieved first, regardless of matches.
const BaselineID = "base"

// Selection is bounded to this many rule matches on top of the
// baseline.
const maxSelected = 2

// Rule links a vocabulary of lowercase substrings to one guidance
// identifier. Lower priority wins.
type Rule struct {
	Patterns []string
	ID       string
	Priority int
}

// DefaultRules covers the shop's recurring subjects. The guideline
// texts themselves live in the guidance source.
func DefaultRules() []Rule {
	return []Rule{
		{Patterns: []string{"cesta", "produto", "catálogo", "catalogo", "opção", "opcoes", "preço", "preco", "valor", "quanto custa", "reais"}, ID: "catalogo", Priority: 10},
		{Patterns: []string{"pagamento", "pagar", "pix", "cartão", "cartao", "boleto", "parcel"}, ID: "pagamento", Priority: 20},
		{Patterns: []string{"entrega", "frete", "endereço", "endereco", "prazo", "enviar", "receber"}, ID: "entrega", Priority: 30},
		{Patterns: []string{"horário", "horario", "aberto", "funciona", "atendimento"}, ID: "horario", Priority: 40},
		{Patterns: []string{"reclama", "problema", "errad", "atras", "cancelar", "troca"}, ID: "reclamacao", Priority: 15},
	}
}

// Selector picks guidance identifiers for a piece of user text.
type Selector struct {
	rules []Rule
}

func NewSelector(rules []Rule) *Selector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Selector{rules: rules}
}

// Select returns the baseline identifier followed by up to maxSelected
// matched identifiers, ordered by rule priority and de-duplicated.
func (s *Selector) Select(text string) []string {
	lowered := strings.ToLower(text)

	var matched []Rule
	for _, rule := range s.rules {
		for _, pattern := range rule.Patterns {
			if strings.Contains(lowered, pattern) {
				matched = append(matched, rule)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	ids := []string{BaselineID}
	seen := map[string]bool{BaselineID: true}
	for _, rule := range matched {
		if len(ids) > maxSelected {
			break
		}
		if seen[rule.ID] {
			continue
		}
		seen[rule.ID] = true
		ids = append(ids, rule.ID)
	}
	return ids
}

// Compose selects identifiers for the text and retrieves each one from
// the source. A failed lookup is logged and skipped; the remaining
// texts are concatenated in selection order.
func (s *Selector) Compose(ctx context.Context, source contractx.GuidanceSource, text string) string {
	var parts []string
	for _, id := range s.Select(text) {
		guidance, err := source.Guidance(ctx, id)
		if err != nil {
			log.Warn().Str("guidance_id", id).Err(err).Msg("guidance: lookup failed, skipping")
			continue
		}
		guidance = strings.TrimSpace(guidance)
		if guidance == "" {
			continue
		}
		parts = append(parts, guidance)
	}
	return strings.Join(parts, "\n\n")
}

package tool

import (
	"context"
	"fmt"
	"strings"

	contractx "atendai/agent/contract"
)

const (
	ToolCatalogSearch = "catalog.search"
	ToolDeliveryQuote = "delivery.quote"
)

// NewCatalog builds the registry with the shop's tools.
func NewCatalog(products contractx.ProductStore) *Registry {
	registry := NewRegistry()

	registry.Register(contractx.ToolDefinition{
		Name:        ToolCatalogSearch,
		Description: "Busca cestas no catálogo por termo e/ou preço máximo em reais.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Termo de busca, ex: 'café da manhã'",
				},
				"max_price": map[string]any{
					"type":        "number",
					"description": "Preço máximo em reais",
				},
			},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return searchCatalog(ctx, products, args)
	})

	registry.Register(contractx.ToolDefinition{
		Name:        ToolDeliveryQuote,
		Description: "Calcula o valor e o prazo de entrega para uma cidade.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "Cidade de entrega",
				},
			},
			"required": []string{"city"},
		},
	}, quoteDelivery)

	return registry
}

func searchCatalog(ctx context.Context, products contractx.ProductStore, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	maxPrice := floatArg(args, "max_price")

	found, err := products.SearchProducts(ctx, query, maxPrice)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	if len(found) == 0 {
		return "Nenhuma cesta encontrada para esses critérios.", nil
	}

	names := make([]string, 0, len(found))
	for _, product := range found {
		names = append(names, fmt.Sprintf("%s (R$ %.2f)", product.Name, product.Price))
	}

	return contractx.ToolPayload{
		Humanized: fmt.Sprintf("Encontrei %d opção(ões): %s", len(found), strings.Join(names, "; ")),
		Data:      found,
	}, nil
}

// quoteDelivery uses flat local rules; real freight integration lives
// outside the core.
func quoteDelivery(ctx context.Context, args map[string]any) (any, error) {
	city, _ := args["city"].(string)
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, fmt.Errorf("city is required")
	}

	switch strings.ToLower(city) {
	case "são paulo", "sao paulo":
		return "Entrega em São Paulo: R$ 12,00, chega no mesmo dia para pedidos até 14h.", nil
	default:
		return fmt.Sprintf("Entrega em %s: R$ 25,00, prazo de até 2 dias úteis.", city), nil
	}
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var parsed float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%f", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

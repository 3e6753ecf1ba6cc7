package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "atendai/agent/contract"
	llmx "atendai/agent/llm"
	orchestratorx "atendai/agent/orchestrator"
	storex "atendai/agent/store"
	toolx "atendai/agent/tool"
	configx "atendai/pkg/config"
	_ "atendai/pkg/logger/autoload"
	notifyx "atendai/pkg/notify"
	openrouterx "atendai/pkg/openrouter"
)

type AppConfig struct {
	StoreDriver string `envconfig:"STORE_DRIVER" split_words:"true" default:"memory"`
	NotifyURL   string `envconfig:"NOTIFY_URL" split_words:"true"`
	NotifyToken string `envconfig:"NOTIFY_TOKEN" split_words:"true"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	openRouterClient := openrouterx.NewClient(*openRouterCfg)
	if openRouterClient == nil {
		panic("failed to initialize openrouter client")
	}

	provider, err := llmx.NewProvider(openRouterClient, *openRouterCfg)
	if err != nil {
		panic(err)
	}

	var (
		sessions contractx.SessionStore
		messages contractx.MessageStore
		guidance contractx.GuidanceSource
		products contractx.ProductStore
	)

	switch strings.ToLower(strings.TrimSpace(appCfg.StoreDriver)) {
	case "postgres":
		pgCfg := configx.MustNew[storex.PostgresConfig]("POSTGRES")
		pg, err := storex.NewPostgres(*pgCfg)
		if err != nil {
			panic(err)
		}
		if err := pg.Init(context.Background()); err != nil {
			panic(err)
		}
		sessions, messages, guidance, products = pg, pg, pg, pg
	default:
		mem := storex.NewMemory()
		mem.SeedGuidance(defaultGuidance())
		mem.SeedProducts(defaultProducts())
		sessions, messages, guidance, products = mem, mem, mem, mem
	}

	var notifier contractx.Notifier
	if strings.TrimSpace(appCfg.NotifyURL) != "" {
		notifier = notifyx.MustNew(notifyx.Config{
			URL:   appCfg.NotifyURL,
			Token: appCfg.NotifyToken,
		})
	}

	serviceCfg := configx.MustNew[orchestratorx.Config]("AGENT")
	service, err := orchestratorx.New(
		sessions,
		messages,
		provider,
		toolx.NewCatalog(products),
		guidance,
		nil,
		notifier,
		*serviceCfg,
	)
	if err != nil {
		panic(err)
	}

	runConsole(service)
}

// runConsole is a local development loop: one session per process,
// one request per line.
func runConsole(service *orchestratorx.Service) {
	sessionID := uuid.NewString()
	fmt.Printf("session %s — digite sua mensagem (ctrl+d para sair)\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		reply, err := service.Submit(context.Background(), sessionID, text, "", "")
		if err != nil {
			log.Error().Err(err).Msg("request failed")
			continue
		}
		fmt.Println(reply)
	}
}

func defaultGuidance() map[string]string {
	return map[string]string{
		"base":       "Você é a atendente virtual da Cestas da Ana. Responda em português, de forma curta e cordial. Use as ferramentas disponíveis para consultar o catálogo e prazos de entrega antes de afirmar preços ou datas.",
		"catalogo":   "Ao falar de produtos, apresente no máximo três opções com nome e preço. Se o cliente citar um valor, priorize cestas até esse valor.",
		"reclamacao": "Em reclamações, peça desculpas uma única vez, colete número do pedido e descreva o próximo passo concreto. Não prometa reembolso sem confirmação.",
		"pagamento":  "Aceitamos pix, cartão em até 3x e boleto. Pix tem 5% de desconto. Nunca peça dados de cartão pelo chat.",
		"entrega":    "Entregamos de segunda a sábado. Use a ferramenta de cotação antes de informar prazo ou taxa de entrega.",
		"horario":    "Atendimento humano de segunda a sexta, 9h às 18h. Fora desse horário, registre o contato e informe quando retornaremos.",
	}
}

func defaultProducts() []contractx.Product {
	return []contractx.Product{
		{ID: "cesta-cafe-classica", Name: "Cesta Café da Manhã Clássica", Description: "Pães, geleia, queijo, suco e frutas da estação.", Price: 89.90},
		{ID: "cesta-cafe-premium", Name: "Cesta Café da Manhã Premium", Description: "Croissants, cold brew, mel, queijos finos e flores.", Price: 159.90},
		{ID: "cesta-chocolate", Name: "Cesta Chocolate", Description: "Seleção de chocolates artesanais com vinho tinto.", Price: 129.00},
		{ID: "cesta-aniversario", Name: "Cesta Aniversário", Description: "Bolo no pote, balões, espumante e cartão personalizado.", Price: 99.00},
		{ID: "cesta-romantica", Name: "Cesta Romântica", Description: "Espumante, morangos com chocolate e velas aromáticas.", Price: 189.00},
	}
}

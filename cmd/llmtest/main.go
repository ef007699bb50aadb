package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/movement-intake/cmd/mainconfig"
	appconfig "github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/llm"
	"github.com/wolfman30/movement-intake/internal/persona"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	profile, err := persona.LoadBuiltin(cfg.PersonaProfile)
	if err != nil {
		log.Fatalf("load persona: %v", err)
	}

	// A short multi-turn intake conversation
	req := llm.Request{
		System: []string{profile.SystemInstruction()},
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Hi, my lower back has been stiff since I stopped PT. Do you work with that?"},
			{Role: llm.RoleAssistant, Content: "We do. A lot of our members come to us right after physical therapy. How long ago did you finish?"},
			{Role: llm.RoleUser, Content: "About a month ago. What does it cost to get started?"},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	}

	rule := strings.Repeat("=", 60)
	fmt.Println(rule)
	fmt.Println("Model Provider Test")
	fmt.Println(rule)

	providers := []string{cfg.LLMProvider}
	if cfg.LLMFallbackProvider != "" && cfg.LLMFallbackProvider != cfg.LLMProvider {
		providers = append(providers, cfg.LLMFallbackProvider)
	}

	for i, name := range providers {
		fmt.Printf("\n[%d] Testing %s...\n", i+1, name)
		single := *cfg
		single.LLMProvider, single.LLMFallbackProvider = name, ""
		client, err := mainconfig.NewModel(ctx, &single, nil, logger)
		if err != nil {
			fmt.Printf("    failed to create client: %v\n", err)
			continue
		}

		start := time.Now()
		resp, err := client.Complete(ctx, req)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("    error (%s): %v\n", llm.KindOf(err), err)
			continue
		}
		fmt.Printf("    response (%v):\n", elapsed.Round(time.Millisecond))
		fmt.Printf("    %s\n", resp.Text)
		fmt.Printf("    Tokens: in=%d, out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	fmt.Println("\n" + rule)
	fmt.Println("If both providers answered, the fallback chain in the API server will work.")
	fmt.Println("Watch the server logs for: 'primary model failed, attempting fallback'")
}

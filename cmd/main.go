package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"study-rag/internal/chunker"
	"study-rag/internal/config"
	"study-rag/internal/documents"
	"study-rag/internal/embedding"
	"study-rag/internal/helper"
	"study-rag/internal/index"
	"study-rag/internal/llmservice"
	"study-rag/internal/models"
	"study-rag/internal/rag"
	"study-rag/internal/tokenizer"
	"study-rag/internal/vectorstore"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	_ = godotenv.Load()

	filePath := flag.String("file", "", "Path to a text or markdown file to ingest")
	docID := flag.String("doc", "", "Document id")
	query := flag.String("query", "", "Question to be answered")
	questions := flag.String("questions", "", "Comma-separated questions for a multi-turn session")
	stats := flag.Bool("stats", false, "Print store statistics for the document")
	deleteDoc := flag.Bool("delete", false, "Delete the document from memory and disk")
	list := flag.Bool("list", false, "List known documents")
	flag.Parse()

	cfg, err := config.Load(configFilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	ctx := context.Background()
	switch {
	case *filePath != "":
		ingestFile(ctx, cfg, *filePath, *docID)
	case *deleteDoc:
		deleteDocument(cfg, *docID)
	case *stats:
		showStats(cfg, *docID)
	case *list:
		listDocuments(cfg)
	case *questions != "":
		askQuestions(ctx, cfg, *docID, splitQuestions(*questions))
	case *query != "":
		askQuestions(ctx, cfg, *docID, []string{*query})
	default:
		log.Fatal().Msg("Please provide one of -file, -query, -questions, -stats, -delete or -list")
	}
}

// newManager wires tokenizer, chunker, embedder and document manager from
// the loaded config.
func newManager(cfg *config.Config) (*documents.Manager, *embedding.Generator) {
	counter := tokenizer.NewCounter(cfg.RAG.Encoding)
	chk, err := chunker.New(chunker.Config{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		Method:       models.ChunkMethod(cfg.RAG.Method),
	}, counter)
	if err != nil {
		log.Fatal().Err(err).Msg("Error configuring chunker")
	}

	gen, err := embedding.FromConfig(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	storeCfg := vectorstore.Config{
		Dimension: cfg.EmbedLLM.Dimension,
		Kind:      index.Kind(cfg.Store.Kind),
		Metric:    index.Metric(cfg.Store.Metric),
		NList:     cfg.Store.NList,
		NProbe:    cfg.Store.NProbe,
	}
	return documents.New(chk, gen, storeCfg, cfg.Store.Dir), gen
}

// newLLM builds the generation model, or nil when no usable credentials are
// configured. With a nil model answers degrade to extractive fallbacks.
func newLLM(cfg *config.Config) llmservice.Generator {
	c := cfg.InferenceLLM
	if c.Provider != "ollama" && c.Key() == "" {
		log.Warn().
			Str("provider", c.Provider).
			Str("key_env", c.KeyEnv).
			Msg("No API key configured, answers degrade to document extracts")
		return nil
	}
	llm, err := llmservice.New(c)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing LLM")
	}
	return llm
}

func ingestFile(ctx context.Context, cfg *config.Config, filePath, docID string) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading document file")
	}

	mgr, _ := newManager(cfg)
	stats, err := mgr.Ingest(ctx, docID, string(data))
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	helper.PrettyPrint(stats)
}

func askQuestions(ctx context.Context, cfg *config.Config, docID string, questions []string) {
	if docID == "" {
		log.Fatal().Msg("Please provide the document id using the -doc flag")
	}

	mgr, gen := newManager(cfg)
	st, err := mgr.Store(docID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening document store")
	}

	pipeline := rag.New(st, gen, newLLM(cfg), cfg.RAG.TopK)
	results, err := pipeline.MultiTurn(ctx, questions, docID, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Error answering")
	}

	for i, res := range results {
		log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", questions[i])

		log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("chunks %v, confidence %.2f\n\n", res.Sources, res.ConfidenceScore)

		log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", res.Answer)
	}
}

func showStats(cfg *config.Config, docID string) {
	if docID == "" {
		log.Fatal().Msg("Please provide the document id using the -doc flag")
	}
	mgr, _ := newManager(cfg)
	stats, err := mgr.Stats(docID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading store statistics")
	}
	helper.PrettyPrint(stats)
}

func deleteDocument(cfg *config.Config, docID string) {
	if docID == "" {
		log.Fatal().Msg("Please provide the document id using the -doc flag")
	}
	mgr, _ := newManager(cfg)
	removed, err := mgr.Delete(docID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error deleting document")
	}
	log.Info().Int("removed", removed).Str("document_id", docID).Msg("Deleted document")
}

func listDocuments(cfg *config.Config) {
	mgr, _ := newManager(cfg)
	ids, err := mgr.List()
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing documents")
	}
	helper.PrettyPrint(ids)
}

func splitQuestions(raw string) []string {
	var out []string
	for _, q := range strings.Split(raw, ",") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// Package rag orchestrates retrieval-augmented answering: encode the
// question, search the store, assemble labeled context, ask the model,
// score confidence from the retrieval distances.
package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"study-rag/internal/embedding"
	"study-rag/internal/index"
	"study-rag/internal/llmservice"
	"study-rag/internal/models"
	"study-rag/internal/vectorstore"
)

const (
	// DefaultTopK bounds retrieval when the caller passes 0.
	DefaultTopK = 5
	// HistoryWindow is the number of trailing history messages kept, three
	// question/answer pairs. Older turns are dropped silently.
	HistoryWindow = 6
	// MaxTurns caps the questions in one multi-turn request.
	MaxTurns = 10
	// FallbackBudget is the character budget of the extractive fallback.
	FallbackBudget = 500

	// Confidence divisors. l2 distances shrink confidence linearly over
	// [0,10]; ip scores are first converted to cosine distances, which span
	// [0,2] for normalized vectors.
	l2ConfidenceScale = 10
	ipConfidenceScale = 2
)

// Pipeline answers questions over one vector store. The generation model is
// optional: with a nil llm every answer degrades to the extractive fallback.
type Pipeline struct {
	store *vectorstore.Store
	gen   *embedding.Generator
	llm   llmservice.Generator
	topK  int
}

// New wires a pipeline. topK <= 0 falls back to DefaultTopK.
func New(store *vectorstore.Store, gen *embedding.Generator, llm llmservice.Generator, topK int) *Pipeline {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Pipeline{store: store, gen: gen, llm: llm, topK: topK}
}

// AnswerQuestion runs one retrieval-augmented answer. documentID "" searches
// every document in the store. topK 0 uses the pipeline default; negative
// values are rejected. history beyond the trailing HistoryWindow messages is
// dropped. Generation failures never surface as errors: the answer degrades
// to an extract of the best chunk instead.
func (p *Pipeline) AnswerQuestion(ctx context.Context, question, documentID string, topK int, history []models.Message) (*models.RetrievalResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("rag: empty question: %w", models.ErrValidation)
	}
	if topK < 0 {
		return nil, fmt.Errorf("rag: top_k %d: %w", topK, models.ErrValidation)
	}
	if topK == 0 {
		topK = p.topK
	}

	vec, err := p.gen.EncodeQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	results, err := p.store.Search(vec, topK, documentID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		log.Debug().Str("document_id", documentID).Msg("no relevant chunks for question")
		return &models.RetrievalResult{
			Answer:         models.NoContextAnswer,
			RelevantChunks: []string{},
			Sources:        []int{},
		}, nil
	}

	answer := p.generate(ctx, buildContext(results), question, history, results[0].Text)

	chunks := make([]string, len(results))
	sources := make([]int, len(results))
	dists := make([]float32, len(results))
	for i, r := range results {
		chunks[i] = r.Text
		sources[i] = r.ChunkIndex
		dists[i] = r.Distance
	}
	return &models.RetrievalResult{
		Answer:          answer,
		RelevantChunks:  chunks,
		Sources:         sources,
		ConfidenceScore: Confidence(dists, p.store.Metric()),
		NumChunksUsed:   len(results),
	}, nil
}

// MultiTurn answers questions in sequence, feeding each turn's question and
// answer back as history for the next turn. More than MaxTurns questions
// fail before any retrieval or generation happens.
func (p *Pipeline) MultiTurn(ctx context.Context, questions []string, documentID string, topK int) ([]models.RetrievalResult, error) {
	if len(questions) > MaxTurns {
		return nil, fmt.Errorf("rag: %d questions exceed the %d turn cap: %w", len(questions), MaxTurns, models.ErrValidation)
	}
	results := make([]models.RetrievalResult, 0, len(questions))
	var history []models.Message
	for _, q := range questions {
		res, err := p.AnswerQuestion(ctx, q, documentID, topK, history)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
		history = append(history,
			models.Message{Role: models.RoleUser, Content: q},
			models.Message{Role: models.RoleAssistant, Content: res.Answer},
		)
	}
	return results, nil
}

// generate asks the model for an answer. Any failure, a missing model
// included, degrades to the extractive fallback instead of erroring.
func (p *Pipeline) generate(ctx context.Context, contextText, question string, history []models.Message, bestChunk string) string {
	if p.llm == nil {
		return fallbackAnswer(bestChunk)
	}
	answer, err := p.llm.Generate(ctx, buildMessages(contextText, question, history))
	if err != nil {
		log.Warn().Err(err).Msg("generation failed, using extractive fallback")
		return fallbackAnswer(bestChunk)
	}
	return answer
}

// buildContext labels each chunk with its 1-based similarity rank and joins
// the blocks. Rank order, not document order.
func buildContext(results []vectorstore.Result) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf(models.ContextBlockTemplate, i+1, r.Text)
	}
	return strings.Join(blocks, "\n")
}

// buildMessages assembles the system instruction, the trailing history
// window and the context-bearing question.
func buildMessages(contextText, question string, history []models.Message) []llms.MessageContent {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: models.SystemPrompt}},
		},
	}
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextContent{Text: m.Content}},
		})
	}
	prompt := fmt.Sprintf(models.QuestionPromptTemplate, contextText, question)
	return append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
	})
}

// fallbackAnswer extracts the best chunk's text under the fixed character
// budget, never cutting a rune in half.
func fallbackAnswer(chunk string) string {
	if len(chunk) > FallbackBudget {
		cut := FallbackBudget
		for cut > 0 && !utf8.RuneStart(chunk[cut]) {
			cut--
		}
		chunk = chunk[:cut] + "..."
	}
	return models.FallbackPrefix + chunk
}

// Confidence maps retrieval distances onto [0,1], monotonically
// non-increasing in the average distance, rounded to two decimals. Inner
// product scores are converted to cosine distances first. This reflects
// retrieval quality only and says nothing about the generated answer.
func Confidence(distances []float32, metric index.Metric) float64 {
	if len(distances) == 0 {
		return 0
	}
	var sum float64
	for _, d := range distances {
		v := float64(d)
		if metric == index.MetricIP {
			v = 1 - v
		}
		sum += v
	}
	avg := sum / float64(len(distances))
	scale := float64(l2ConfidenceScale)
	if metric == index.MetricIP {
		scale = ipConfidenceScale
	}
	c := 1 - avg/scale
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	return math.Round(c*100) / 100
}

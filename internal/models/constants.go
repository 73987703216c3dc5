package models

const (
	// SystemPrompt pins the assistant to the retrieved context.
	SystemPrompt = `You are a helpful AI assistant that answers questions based on provided context.

Instructions:
1. Answer the question using ONLY information from the provided context
2. If the context doesn't contain enough information, say so
3. Be concise but comprehensive
4. Cite specific parts of the context when possible
5. If asked about something not in the context, politely state that

Be accurate and helpful.`

	// QuestionPromptTemplate wraps the assembled context and the question.
	QuestionPromptTemplate = `Context from document:
%s

Question: %s

Please provide a detailed answer based on the context above.`

	// ContextBlockTemplate labels one retrieved chunk with its 1-based rank.
	ContextBlockTemplate = "[Context %d]:\n%s\n"

	// NoContextAnswer is the fixed answer when retrieval finds nothing.
	NoContextAnswer = "I couldn't find relevant information in the document to answer your question."

	// FallbackPrefix labels the extractive answer used when generation fails.
	FallbackPrefix = "Based on the document: "
)

package services

import (
	"context"

	"lexmemo/backend/pkg/models"
)

// Retriever is the retrieval collaborator: given a query it returns ranked
// source chunks with stable identifiers. Results are never reordered or
// re-ranked by the engine and are truncated at topK.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]models.SourceChunk, error)
}

// Generator is the generation collaborator: an opaque text-completion
// service. Returned text is untrusted until the verification gate checks it.
type Generator interface {
	Complete(ctx context.Context, prompt string, contextChunks []models.SourceChunk) (string, error)
}

package app

import "errors"

// Service errors, grouped by how callers should treat them: validation and
// conflict errors are detected before any mutation; not-found errors mean the
// referenced entity must exist for the operation; everything else propagates
// as a wrapped storage or upstream failure.
var (
	ErrInvalidInput = errors.New("invalid input")

	ErrSessionNotFound       = errors.New("session not found")
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	ErrDocumentNotFound      = errors.New("document not found")

	ErrDefaultKnowledgeBase  = errors.New("default knowledge base cannot be deleted")
	ErrKnowledgeBaseNotEmpty = errors.New("knowledge base still owns documents")
)

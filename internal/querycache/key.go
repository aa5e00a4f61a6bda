package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// normalize collapses runs of whitespace to single spaces, trims, and
// case-folds. "How many users?" and "  how many users? " hash identically.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// hashKey hashes the components with NUL separators so no concatenation of
// fields can collide with a different split of the same bytes.
func hashKey(components ...string) string {
	h := sha256.New()
	for i, c := range components {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AnswerKey keys a RAG answer by the normalized question and the retrieval
// depth it was produced with.
func AnswerKey(question string, topK int) string {
	return hashKey(string(TypeAnswer), normalize(question), strconv.Itoa(topK))
}

// SQLGenKey keys generated SQL by the normalized question and the schema
// context it was generated against. A schema change invalidates naturally.
func SQLGenKey(question, schemaContext string) string {
	return hashKey(string(TypeSQLGen), normalize(question), schemaContext)
}

// SQLResultKey keys execution results by the exact SQL text, trimmed.
// Case is significant: SQL string literals are case-sensitive.
func SQLResultKey(sqlText string) string {
	return hashKey(string(TypeSQLResult), strings.TrimSpace(sqlText))
}

// EmbeddingKey keys embedding vectors by the exact input text. No folding:
// embedding models are case-sensitive.
func EmbeddingKey(text string) string {
	return hashKey(string(TypeEmbedding), text)
}

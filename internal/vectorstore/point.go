package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Payload keys written with every chunk point.
const (
	PayloadDocumentID = "document_id"
	PayloadUserID     = "user_id"
	PayloadText       = "text"
	PayloadPosition   = "position"
	PayloadFileName   = "file_name"
	PayloadFallback   = "embedding_fallback"
)

// pointNamespace scopes UUIDv5 point ids to this application.
var pointNamespace = uuid.MustParse("6f1c1ad2-5b0e-4c55-9d7e-3f5c2b8e6a10")

type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type SearchResult struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Text returns the chunk text stored in the payload.
func (r SearchResult) Text() string {
	return payloadString(r.Payload, PayloadText)
}

func (r SearchResult) DocumentID() uint {
	return uint(payloadUint(r.Payload, PayloadDocumentID))
}

// Filter restricts a search or delete to points whose payload Key equals Value.
type Filter struct {
	Key   string
	Value any
}

func UserFilter(userID uint) *Filter {
	return &Filter{Key: PayloadUserID, Value: userID}
}

func DocumentFilter(documentID uint) *Filter {
	return &Filter{Key: PayloadDocumentID, Value: documentID}
}

// ContentHash is the hex SHA-256 of a chunk's text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// PointID derives the point identity from (documentID, contentHash). The same
// pair always maps to the same UUID, so re-upserting replaces the point.
func PointID(documentID uint, contentHash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(strconv.FormatUint(uint64(documentID), 10)+":"+contentHash)).String()
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func payloadUint(payload map[string]any, key string) uint64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case int:
		return uint64(v)
	case uint:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint64:
		return v
	case string:
		n, _ := strconv.ParseUint(v, 10, 64)
		return n
	default:
		return 0
	}
}

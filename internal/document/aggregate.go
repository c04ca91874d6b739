package document

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Record is a stored chunk as returned by a vector index query.
type Record struct {
	ID       string
	Metadata map[string]any
}

type group struct {
	id        string
	content   string
	contentAt int
	meta      map[string]any
	metaAt    int
	createdAt any
	updatedAt any
	count     int
}

// Aggregate groups chunk records by document ID and materializes one
// Document per group. The representative content is the longest chunk
// text; metadata comes from the lowest-index chunk with the per-chunk keys
// removed. Missing or unparseable timestamps default to now. Records
// without a document ID are ignored. The result is sorted by CreatedAt
// descending, ties broken by ID.
func Aggregate(records []Record, now time.Time) []Document {
	groups := make(map[string]*group)
	var order []string

	for _, r := range records {
		docID := MetaString(r.Metadata, KeyDocumentID)
		if docID == "" {
			continue
		}
		g, ok := groups[docID]
		if !ok {
			g = &group{id: docID, contentAt: math.MaxInt, metaAt: math.MaxInt}
			groups[docID] = g
			order = append(order, docID)
		}
		g.count++

		idx, _ := MetaInt(r.Metadata, KeyChunkIndex)
		text := MetaString(r.Metadata, KeyText)
		if len(text) > len(g.content) || (len(text) == len(g.content) && idx < g.contentAt) {
			g.content = text
			g.contentAt = idx
		}
		if g.meta == nil || idx < g.metaAt {
			g.meta = r.Metadata
			g.metaAt = idx
			g.createdAt = r.Metadata[KeyCreatedAt]
			g.updatedAt = r.Metadata[KeyUpdatedAt]
		}
	}

	docs := make([]Document, 0, len(order))
	for _, id := range order {
		g := groups[id]
		docs = append(docs, Document{
			ID:         g.id,
			Content:    g.content,
			Metadata:   StripChunkKeys(g.meta),
			CreatedAt:  ParseTime(g.createdAt, now),
			UpdatedAt:  ParseTime(g.updatedAt, now),
			ChunkCount: g.count,
		})
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

// Paginate returns docs[offset:offset+limit]. A non-positive limit returns
// everything after offset; an offset past the end returns an empty slice.
func Paginate(docs []Document, limit, offset int) []Document {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(docs) {
		return []Document{}
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end]
}

// ParseTime interprets a stored timestamp. RFC 3339 strings, epoch
// milliseconds (number or numeric string) and time.Time are accepted.
func ParseTime(v any, fallback time.Time) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case int:
		return time.UnixMilli(int64(t)).UTC()
	}
	return fallback
}

// MetaString returns m[key] as a string, or "" if absent.
func MetaString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// MetaInt returns m[key] as an int. JSON decoding yields float64, so
// numeric types are normalized.
func MetaInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	}
	return 0, false
}

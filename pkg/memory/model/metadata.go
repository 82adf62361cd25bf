package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Coercion helpers shared by the store backends. Metadata travels as
// map[string]any (drivers, JSON) or map[string]string (chromem); records must
// round-trip identically through every backend.

func FloatFromAny(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func IntFromAny(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		i, _ := t.Int64()
		return i
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err == nil {
			return i
		}
	}
	return 0
}

func StringFromAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func TimeFromAny(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return ts
		}
	}
	return time.Time{}
}

func StringsFromAny(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := StringFromAny(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return DecodeEntities(t)
	}
	return nil
}

// EncodeEntities serializes an entity list for backends with string-only
// metadata values.
func EncodeEntities(entities []string) string {
	if len(entities) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(entities)
	return string(b)
}

// DecodeEntities reverses EncodeEntities.
func DecodeEntities(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// RecordToStringMeta flattens a record into string-valued metadata. The
// embedding and text travel separately.
func RecordToStringMeta(rec MemoryRecord) map[string]string {
	return map[string]string{
		"tier":             string(rec.Tier),
		"entities":         EncodeEntities(rec.Entities),
		"category":         rec.Category,
		"polarity":         strconv.Itoa(int(rec.Polarity)),
		"session_id":       rec.SessionID,
		"created_at":       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_accessed_at": rec.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		"strength":         strconv.FormatFloat(rec.Strength, 'g', -1, 64),
		"generation":       strconv.FormatInt(rec.Generation, 10),
	}
}

// RecordFromStringMeta rebuilds a record from flattened metadata.
func RecordFromStringMeta(id, text string, embedding []float32, meta map[string]string) MemoryRecord {
	rec := MemoryRecord{
		ID:        id,
		Text:      text,
		Embedding: embedding,
		Tier:      ParseTier(meta["tier"]),
		Entities:  DecodeEntities(meta["entities"]),
		Category:  meta["category"],
		SessionID: meta["session_id"],
	}
	if v, err := strconv.Atoi(meta["polarity"]); err == nil {
		rec.Polarity = Polarity(v)
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta["created_at"]); err == nil {
		rec.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta["last_accessed_at"]); err == nil {
		rec.LastAccessedAt = ts
	}
	if f, err := strconv.ParseFloat(meta["strength"], 64); err == nil {
		rec.Strength = f
	}
	if g, err := strconv.ParseInt(meta["generation"], 10, 64); err == nil {
		rec.Generation = g
	}
	return rec
}

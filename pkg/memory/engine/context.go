package engine

import (
	"fmt"
	"strings"
	"time"

	json "github.com/alpkeskin/gotoon"
)

type contextEntry struct {
	Tier  string  `json:"tier"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Age   string  `json:"age"`
}

// FormatContext renders a retrieval bundle as a compact block for prompt
// injection. Degraded tiers are called out so the model knows the view may
// be partial.
func FormatContext(bundle Bundle, now time.Time) string {
	if len(bundle.Records) == 0 {
		return ""
	}
	entries := make([]contextEntry, 0, len(bundle.Records))
	for _, rec := range bundle.Records {
		entries = append(entries, contextEntry{
			Tier:  string(rec.Tier),
			Text:  rec.Text,
			Score: roundScore(rec.Score),
			Age:   humanAge(now.Sub(rec.CreatedAt)),
		})
	}
	encoded, err := json.Encode(entries, json.WithIndent("  "))
	if err != nil {
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "- [%s] %s\n", e.Tier, e.Text)
		}
		encoded = b.String()
	}

	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	b.WriteString(encoded)
	if !strings.HasSuffix(encoded, "\n") {
		b.WriteString("\n")
	}
	if len(bundle.Degraded) > 0 {
		names := make([]string, 0, len(bundle.Degraded))
		for _, tier := range bundle.Degraded {
			names = append(names, string(tier))
		}
		fmt.Fprintf(&b, "(memory tiers unavailable: %s)\n", strings.Join(names, ", "))
	}
	if bundle.RecencyOnly {
		b.WriteString("(ranked by recency only)\n")
	}
	return b.String()
}

func roundScore(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

func humanAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

package roster_service

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"entrybot/entry_service"
	"entrybot/platform"
)

const (
	// FieldLimit is the longest text one bucket may render to.
	FieldLimit = 1024
	// MessageLimit caps the title, description, field names and bucket texts
	// of the roster message together.
	MessageLimit = 6000
	emptyBucket  = "none"
	rosterTitle  = "Arrival roster"
	rosterColor  = 0x2ecc71
)

// Bucket is the rendered list of one slot.
type Bucket struct {
	Slot  entry_service.SlotKey `json:"slot"`
	Label string                `json:"label"`
	Count int                   `json:"count"`
	Text  string                `json:"text"`
}

// View is the whole roster in slot order.
type View struct {
	Buckets []Bucket `json:"buckets"`
	Total   int      `json:"total"`
}

// Render groups the active entries by slot in the fixed slot order. Within a
// bucket the first registered is listed first.
func Render(entries []entry_service.Entry) View {
	bySlot := make(map[entry_service.SlotKey][]entry_service.Entry)
	total := 0
	for _, e := range entries {
		if e.Status != entry_service.StatusActive {
			continue
		}
		bySlot[e.SlotKey] = append(bySlot[e.SlotKey], e)
		total++
	}

	view := View{Total: total}
	lines := make([][]string, 0, len(entry_service.Slots))
	for _, slot := range entry_service.Slots {
		bucket := bySlot[slot.Key]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].CreatedAt.Before(bucket[j].CreatedAt)
		})
		rendered := make([]string, 0, len(bucket))
		for _, e := range bucket {
			rendered = append(rendered, line(e))
		}
		lines = append(lines, rendered)
		view.Buckets = append(view.Buckets, Bucket{
			Slot:  slot.Key,
			Label: slot.Label,
			Count: len(bucket),
			Text:  clip(rendered, FieldLimit),
		})
	}
	view.fit(lines)
	return view
}

// fit shrinks the non-empty buckets in proportion to their size until the
// whole message stays within MessageLimit.
func (v *View) fit(lines [][]string) {
	budget := MessageLimit - runes(rosterTitle) - runes(v.description())
	used := 0
	for _, b := range v.Buckets {
		budget -= runes(b.fieldName())
		if b.Count == 0 {
			budget -= runes(b.Text)
			continue
		}
		used += runes(b.Text)
	}
	if used <= budget {
		return
	}
	for i, b := range v.Buckets {
		if b.Count == 0 {
			continue
		}
		limit := runes(b.Text) * budget / used
		if limit < 1 {
			limit = 1
		}
		v.Buckets[i].Text = clip(lines[i], limit)
	}
}

func line(e entry_service.Entry) string {
	s := fmt.Sprintf("• %s ([entry](%s))", e.Name, e.Link())
	if e.SlotKey == entry_service.SlotOther && e.FreeText != "" {
		s += " - " + e.FreeText
	}
	return s
}

// clip joins lines while they fit in limit and appends a continuation
// marker naming how many were left out. A first line that alone is too long
// is cut mid-text.
func clip(lines []string, limit int) string {
	if len(lines) == 0 {
		return emptyBucket
	}
	joined := strings.Join(lines, "\n")
	if runes(joined) <= limit {
		return joined
	}
	var b strings.Builder
	used := 0
	for i, l := range lines {
		marker := fmt.Sprintf("\n…and %d more", len(lines)-i)
		n := runes(l)
		if i > 0 {
			n++
		}
		if used+n+runes(marker) > limit {
			if i == 0 {
				return cutFirst(lines, limit)
			}
			b.WriteString(marker)
			return b.String()
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
		used += n
	}
	return b.String()
}

func cutFirst(lines []string, limit int) string {
	tail := "…"
	if len(lines) > 1 {
		tail += fmt.Sprintf("\n…and %d more", len(lines)-1)
	}
	keep := limit - runes(tail)
	if keep <= 0 {
		return truncate(tail, limit)
	}
	return truncate(lines[0], keep) + tail
}

func truncate(s string, n int) string {
	if runes(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func runes(s string) int { return utf8.RuneCountInString(s) }

func (v View) description() string {
	return fmt.Sprintf("%d active registration(s)", v.Total)
}

func (b Bucket) fieldName() string {
	return fmt.Sprintf("%s (%d)", b.Label, b.Count)
}

// Message turns the view into the roster message body.
func (v View) Message() platform.Outgoing {
	embed := platform.Embed{
		Title:       rosterTitle,
		Description: v.description(),
		Color:       rosterColor,
	}
	for _, b := range v.Buckets {
		embed.Fields = append(embed.Fields, platform.Field{
			Name:  b.fieldName(),
			Value: b.Text,
		})
	}
	return platform.Outgoing{Embeds: []platform.Embed{embed}}
}

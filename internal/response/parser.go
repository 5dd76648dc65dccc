package response

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/internal/textnorm"
)

// defaultSection labels findings that carry no usable section title.
const defaultSection = "Key Findings"

// headingRule pairs a line prefix that opens a new section with
// whether that prefix is removed from the section title. Rules are
// checked in order; numbered prefixes mark a heading but the numeric
// part is dropped separately.
type headingRule struct {
	marker string
	strip  bool
}

var headingRules = []headingRule{
	{marker: "Section:", strip: true},
	{marker: "Findings for:", strip: true},
	{marker: "###", strip: true},
	{marker: "#", strip: true},
	{marker: "**", strip: true},
	{marker: "1.", strip: false},
	{marker: "2.", strip: false},
	{marker: "3.", strip: false},
	{marker: "4.", strip: false},
	{marker: "5.", strip: false},
	{marker: "6.", strip: false},
	{marker: "7.", strip: false},
	{marker: "8.", strip: false},
	{marker: "9.", strip: false},
	{marker: "10.", strip: false},
}

// Parse converts a raw agent payload into a Record. The payload may be
// a JSON-encoded string ([]byte, json.RawMessage or string) or an
// already-decoded map. Parse is total: any payload that cannot be
// decoded collapses into a single default-section finding holding the
// normalized text, and no input makes it panic or fail.
func Parse(raw any) Record {
	payload, ok := decodePayload(raw)
	if !ok {
		return fallbackRecord(raw)
	}

	qta := stringSlice(payload["questions_to_answer"])
	rec := Record{
		Findings:          parseFindings(payload["findings"], qta),
		Questions:         stringSlice(payload["questions"]),
		Metadata:          copyMap(payload["metadata"]),
		QuestionsToAnswer: qta,
	}
	cleanRecord(&rec)
	applyRole(rec.Metadata)

	if rec.Findings == nil {
		rec.Findings = []Finding{}
	}
	if rec.Questions == nil {
		rec.Questions = []string{}
	}
	if rec.QuestionsToAnswer == nil {
		rec.QuestionsToAnswer = []string{}
	}
	return rec
}

func decodePayload(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case string:
		return decodeJSON([]byte(v))
	case []byte:
		return decodeJSON(v)
	case json.RawMessage:
		return decodeJSON(v)
	}
	return nil, false
}

func decodeJSON(data []byte) (map[string]any, bool) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, false
	}
	switch v := decoded.(type) {
	case map[string]any:
		return v, true
	case string:
		// Agents frequently hand back their payload as a JSON-encoded
		// string rather than an object
		return decodeJSON([]byte(v))
	}
	return nil, false
}

func fallbackRecord(raw any) Record {
	metrics.RecordParseFallback("raw_text")
	return Record{
		Findings: []Finding{{
			Section: defaultSection,
			Points:  []string{textnorm.Normalize(rawText(raw))},
		}},
		Questions:         []string{},
		Metadata:          map[string]any{},
		QuestionsToAnswer: []string{},
	}
}

func rawText(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	}
	return fmt.Sprint(raw)
}

// parseFindings handles the three shapes findings arrive in: a flat
// text blob, a list of text lines, or a list of section objects.
func parseFindings(v any, qta []string) []Finding {
	switch f := v.(type) {
	case string:
		return parseLines(strings.Split(f, "\n"), qta)
	case []any:
		if allStrings(f) {
			lines := make([]string, len(f))
			for i, item := range f {
				lines[i] = item.(string)
			}
			return parseLines(lines, qta)
		}
		if allMaps(f) {
			out := make([]Finding, 0, len(f))
			for _, item := range f {
				out = append(out, findingFromMap(item.(map[string]any), true))
			}
			return out
		}
		// Mixed list: only the object-shaped entries carry structure.
		var out []Finding
		for _, item := range f {
			if m, ok := item.(map[string]any); ok {
				out = append(out, findingFromMap(m, false))
			}
		}
		return out
	}
	return nil
}

// parseLines classifies text lines by the heading rule table, then
// falls back to grouping lines under the questions they mention, then
// to a single default section.
func parseLines(lines []string, qta []string) []Finding {
	var structured []Finding
	var section string
	var points []string

	flush := func() {
		if section != "" && len(points) > 0 {
			structured = append(structured, Finding{Section: section, Points: points})
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if isHeading(line) {
			flush()
			section = stripHeadingMarkers(line)
			points = nil
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			point := strings.TrimSpace(strings.TrimLeft(line, "-* "))
			if point != "" && section != "" {
				points = append(points, point)
			}
			continue
		}
		if section != "" {
			points = append(points, line)
			continue
		}
		section = line
		points = nil
	}
	flush()

	if len(structured) == 0 && len(qta) > 0 {
		structured = groupByQuestions(lines, qta)
		if len(structured) > 0 {
			metrics.RecordParseFallback("questions")
		}
	}
	if len(structured) == 0 && len(lines) > 0 {
		structured = []Finding{{Section: defaultSection, Points: append([]string(nil), lines...)}}
		metrics.RecordParseFallback("key_findings")
	}
	return structured
}

func isHeading(line string) bool {
	for _, rule := range headingRules {
		if strings.HasPrefix(line, rule.marker) {
			return true
		}
	}
	return false
}

// stripHeadingMarkers removes marker prefixes in rule order, then a
// leading "N. " list number from whatever remains.
func stripHeadingMarkers(line string) string {
	section := line
	for _, rule := range headingRules {
		if !rule.strip {
			continue
		}
		if strings.HasPrefix(section, rule.marker) {
			section = strings.TrimSpace(section[len(rule.marker):])
		}
	}
	if section != "" && section[0] >= '0' && section[0] <= '9' {
		if _, rest, found := strings.Cut(section, ". "); found {
			section = rest
		}
	}
	return section
}

// groupByQuestions builds one synthetic section per question from the
// lines that mention it, either by full containment or by sharing any
// single word.
func groupByQuestions(lines []string, qta []string) []Finding {
	var out []Finding
	for _, q := range qta {
		lq := strings.ToLower(q)
		words := strings.Fields(lq)
		var pts []string
		for _, line := range lines {
			ll := strings.ToLower(line)
			if strings.Contains(ll, lq) || containsAnyWord(ll, words) {
				pts = append(pts, line)
			}
		}
		if len(pts) > 0 {
			out = append(out, Finding{Section: "Findings for: " + q, Points: pts})
		}
	}
	return out
}

func containsAnyWord(line string, words []string) bool {
	for _, w := range words {
		if strings.Contains(line, w) {
			return true
		}
	}
	return false
}

func findingFromMap(m map[string]any, backfill bool) Finding {
	f := Finding{}
	if s, ok := m["section"].(string); ok {
		f.Section = s
	} else if backfill {
		f.Section = defaultSection
	}
	switch p := m["points"].(type) {
	case []any:
		f.Points = stringSlice(p)
	case []string:
		f.Points = append([]string(nil), p...)
	default:
		if backfill {
			if content, ok := m["content"]; ok {
				f.Points = []string{fmt.Sprint(content)}
			}
		}
	}
	return f
}

// cleanRecord normalizes every section title, point and question,
// drops entries that normalize away, and relabels findings whose title
// normalized to nothing.
func cleanRecord(rec *Record) {
	var findings []Finding
	for _, f := range rec.Findings {
		section := textnorm.Normalize(f.Section)
		var points []string
		for _, p := range f.Points {
			if cp := textnorm.Normalize(p); cp != "" {
				points = append(points, cp)
			}
		}
		if len(points) == 0 {
			continue
		}
		if section == "" {
			section = defaultSection
		}
		findings = append(findings, Finding{Section: section, Points: points})
	}
	rec.Findings = findings

	var questions []string
	for _, q := range rec.Questions {
		if cq := textnorm.Normalize(q); cq != "" {
			questions = append(questions, cq)
		}
	}
	rec.Questions = questions
}

// applyRole derives the role label from the round number. Round values
// arrive as whatever the JSON decoder produced, so numeric types and
// digit strings are matched loosely; anything that is not 1 or 2 maps
// to the final role.
func applyRole(md map[string]any) {
	if md == nil {
		return
	}
	v, ok := md["round"]
	if !ok {
		return
	}
	switch roundNumber(v) {
	case 1:
		md["role"] = RoleInitialResearcher
	case 2:
		md["role"] = RoleCriticalAnalyst
	default:
		md["role"] = RolePracticalImplementer
	}
}

func roundNumber(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return 0
}

func allStrings(items []any) bool {
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

func allMaps(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []any:
		var out []string
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), items...)
	}
	return nil
}

func copyMap(v any) map[string]any {
	md, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(md)+1)
	for k, val := range md {
		out[k] = val
	}
	return out
}

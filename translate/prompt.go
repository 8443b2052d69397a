package translate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/MartinPavlik/ai-localization/langfile"
)

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// BuildPrompt assembles the prompt for one batch: product context, the
// target's extra instructions, the output contract, and the batch itself
// as a JSON object in source key order.
func BuildPrompt(productContext, instructions string, keys []string, source *langfile.File) string {
	batch := langfile.New()
	for _, k := range keys {
		v, _ := source.Get(k)
		batch.Set(k, v)
	}

	var b strings.Builder
	b.WriteString("You are a professional translator specializing in software and product localization.\n\n")

	if productContext != "" {
		b.WriteString("PRODUCT CONTEXT:\n")
		b.WriteString(productContext)
		b.WriteString("\n\n")
	}

	if instructions != "" {
		b.WriteString("TARGET INSTRUCTIONS:\n")
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}

	b.WriteString(`TECHNICAL REQUIREMENTS:
- Return ONLY a JSON object with exactly the same keys as the input, each value translated.
- Do NOT translate, reorder, add, or drop keys.
- Preserve all interpolation variables and format specifiers exactly as-is ({{name}}, %s, %d, etc.).
- Preserve leading/trailing whitespace, newlines, and punctuation patterns.
- Keep brand names and proper nouns unchanged.
- Return ONLY the JSON object, no explanations or markdown code blocks.

Translate the values of this JSON object:

`)
	b.Write(batch.Marshal())

	return b.String()
}

// ParseBatch extracts the translated mapping from the backend response.
// The response must cover every batch key; keys outside the batch are
// dropped. A batch either yields a complete set of translated keys or
// fails as a whole; there is no partial recovery from malformed text.
func ParseBatch(content string, keys []string) (map[string]string, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code blocks if present.
	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	// Try to find a JSON object in the response.
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	var translated map[string]string
	if err := json.Unmarshal([]byte(content), &translated); err != nil {
		return nil, fmt.Errorf("failed to parse translation response as JSON object: %w\nResponse: %s", err, truncate(content, 300))
	}

	result := make(map[string]string, len(keys))
	var missing []string
	for _, k := range keys {
		v, ok := translated[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		result[k] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("response missing %d of %d keys (first: %q)",
			len(missing), len(keys), missing[0])
	}

	return result, nil
}

// truncate shortens s for inclusion in error messages and reports.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"

	"github.com/parley/internal/conversation"
)

// ParseDrafts extracts the draft list from a raw model response. Models
// wrap JSON in prose and code fences, and occasionally emit broken
// JSON; extraction plus the jsonrepair fallback handles both. An empty
// array is a valid response meaning the agent chose to stay quiet.
func ParseDrafts(raw string) ([]conversation.Draft, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in model response")
	}

	drafts, err := unmarshalDrafts(jsonStr)
	if err == nil {
		return drafts, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(jsonStr)
	if repairErr != nil {
		return nil, fmt.Errorf("model response is not valid JSON: %w", err)
	}

	drafts, err = unmarshalDrafts(repaired)
	if err != nil {
		return nil, fmt.Errorf("model response is not valid JSON after repair: %w", err)
	}

	log.Debug().
		Int("original_bytes", len(jsonStr)).
		Int("repaired_bytes", len(repaired)).
		Msg("repaired malformed model JSON")
	return drafts, nil
}

func unmarshalDrafts(jsonStr string) ([]conversation.Draft, error) {
	trimmed := strings.TrimSpace(jsonStr)

	// A bare object is a single draft
	if strings.HasPrefix(trimmed, "{") {
		var single conversation.Draft
		if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
			return nil, err
		}
		if strings.TrimSpace(single.Body) == "" {
			return nil, nil
		}
		return []conversation.Draft{single}, nil
	}

	var drafts []conversation.Draft
	if err := json.Unmarshal([]byte(trimmed), &drafts); err != nil {
		return nil, err
	}

	// Drop empty-bodied entries rather than posting blank messages
	out := drafts[:0]
	for _, d := range drafts {
		if strings.TrimSpace(d.Body) != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

// extractJSON extracts JSON content from mixed text/JSON responses
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// If it starts with { or [, assume it's pure JSON
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	// Look for JSON blocks marked with ```json or ```
	if strings.Contains(raw, "```") {
		lines := strings.Split(raw, "\n")
		var jsonLines []string
		inCodeBlock := false

		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}

		if len(jsonLines) > 0 {
			return strings.TrimSpace(strings.Join(jsonLines, "\n"))
		}
	}

	// Look for the first { or [ and find its matching close
	startIdx := strings.Index(raw, "[")
	openChar := byte('[')
	closeChar := byte(']')
	if objIdx := strings.Index(raw, "{"); startIdx == -1 || (objIdx != -1 && objIdx < startIdx) {
		startIdx = objIdx
		openChar, closeChar = '{', '}'
	}
	if startIdx == -1 {
		return ""
	}

	count := 0
	for i := startIdx; i < len(raw); i++ {
		if raw[i] == openChar {
			count++
		} else if raw[i] == closeChar {
			count--
			if count == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// Incomplete structure; hand the tail to the repair pass
	return raw[startIdx:]
}

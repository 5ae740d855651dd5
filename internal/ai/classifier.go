package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type ClassificationResult struct {
	Capabilities []string `json:"capabilities"`
}

// ClassifyCapabilities asks a cheap model which of allowed apply to a notice.
// Tags outside allowed are dropped.
func ClassifyCapabilities(ctx context.Context, gen Generator, opts GenerateOptions, title, summary string, allowed []string) ([]string, error) {
	if len(allowed) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(`You are an expert federal contracting classifier. Decide which capability areas the following opportunity needs, based on its Title and Summary.

OPPORTUNITY TITLE: %s
OPPORTUNITY SUMMARY: %s

Select the most relevant tags from the following EXACT list. Do not invent new tags.

AVAILABLE CAPABILITIES: %s

Return a JSON object with this format:
{
  "capabilities": ["Capability1", "Capability2"]
}

Rules:
1. Select only tags that strongly apply.
2. If no tags apply, return an empty array.
3. Respond ONLY with the JSON object.`, title, summary, strings.Join(allowed, ", "))

	resp, err := gen.Generate(ctx, Request{
		Prompt:      prompt,
		TaskType:    TaskClassification,
		MaxTokens:   300,
		Temperature: Float64(0.1),
	}, opts)
	if err != nil {
		return nil, err
	}

	obj, ok := extractJSON(resp.Content)
	if !ok {
		return nil, fmt.Errorf("classification output has no JSON object")
	}
	var result struct {
		Capabilities flexStrings `json:"capabilities"`
	}
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification json: %w", err)
	}
	return filterValid(result.Capabilities.clean(), allowed), nil
}

func filterValid(tags []string, allowed []string) []string {
	valid := make([]string, 0)
	allowedMap := make(map[string]bool)
	for _, a := range allowed {
		allowedMap[a] = true
	}

	for _, t := range tags {
		if allowedMap[t] {
			valid = append(valid, t)
			continue
		}
		// Models drift on casing; keep the canonical spelling.
		for _, a := range allowed {
			if strings.EqualFold(a, t) {
				valid = append(valid, a)
				break
			}
		}
	}
	return valid
}

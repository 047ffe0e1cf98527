// Package jsonx extracts JSON objects from free-form model output.
//
// Language models asked for "JSON only" still wrap their answer in prose or
// markdown code fences often enough that every caller needs the same
// three-tier fallback: parse directly, strip a fence, then grab the first
// brace-delimited span. Centralising it here keeps the grammar and
// pronunciation parsers in agreement.
package jsonx

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoObject is returned when no parseable JSON object can be recovered
// from the input by any strategy.
var ErrNoObject = errors.New("jsonx: no JSON object found")

// fenceRe matches a markdown code fence with an optional language tag and
// captures its body.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// braceRe matches the first '{' through the last '}' in the input.
var braceRe = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractObject recovers a JSON object from raw using three strategies in
// order: direct parse, markdown fence body, first {...} span. The returned
// bytes are valid JSON for an object; ErrNoObject is returned when all three
// strategies fail.
func ExtractObject(raw string) ([]byte, error) {
	candidates := []string{strings.TrimSpace(raw)}

	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if m := braceRe.FindString(raw); m != "" {
		candidates = append(candidates, m)
	}

	for _, c := range candidates {
		if c == "" || c[0] != '{' {
			continue
		}
		if json.Valid([]byte(c)) {
			return []byte(c), nil
		}
	}
	return nil, ErrNoObject
}

// Unmarshal extracts a JSON object from raw and decodes it into v.
func Unmarshal(raw string, v any) error {
	data, err := ExtractObject(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

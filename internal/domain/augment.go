package domain

import (
	"fmt"
	"time"
)

// AugmentKind is the type of LLM-generated content.
type AugmentKind string

const (
	KindTranslate AugmentKind = "translate"
	KindInspire   AugmentKind = "inspire"
)

func ParseAugmentKind(s string) (AugmentKind, error) {
	switch AugmentKind(s) {
	case KindTranslate, KindInspire:
		return AugmentKind(s), nil
	}
	return "", fmt.Errorf("unknown augmentation kind %q", s)
}

// LLMKey identifies a cached augmentation. Variant is the reply language.
type LLMKey struct {
	Site      Site
	ProblemID string
	Kind      AugmentKind
	Variant   string
}

// LLMResult is written once per key and read many times.
type LLMResult struct {
	LLMKey
	Content   string
	Model     string
	CreatedAt time.Time
}

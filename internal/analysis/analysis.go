package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dance-studio/internal/model"
)

var (
	ErrRateLimited    = errors.New("rate limit exceeded, please wait a moment and try again")
	ErrQuotaExhausted = errors.New("AI credits exhausted, please add credits to continue")
)

// Analyzer turns an uploaded image (a data URI) into an attribute profile.
// apiKey is the optional per-user credential for the analysis provider.
type Analyzer interface {
	Analyze(ctx context.Context, imageData, apiKey string) (model.Profile, error)
}

// Error is a non-2xx answer that is neither a rate limit nor a quota error.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis failed with status %d", e.StatusCode)
	}
	return e.Message
}

// Decode reads a profile leniently: non-string values are stringified,
// unknown fields are ignored and style_level wins over sexy_level.
func Decode(data []byte) (model.Profile, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.Profile{}, fmt.Errorf("analysis: invalid JSON: %w", err)
	}

	p := model.Profile{
		DetailedPrompt:  str(raw, "detailed_prompt"),
		AgeRange:        str(raw, "age_range"),
		BodyType:        str(raw, "body_type"),
		FacialFeatures:  str(raw, "facial_features"),
		StyleLevel:      str(raw, "sexy_level"),
		Pose:            str(raw, "pose"),
		Clothing:        str(raw, "clothing"),
		Hair:            str(raw, "hair"),
		HairColor:       str(raw, "hair_color"),
		Background:      str(raw, "background"),
		Ethnicity:       str(raw, "ethnicity"),
		SkinTone:        str(raw, "skin_tone"),
		EyeColor:        str(raw, "eye_color"),
		MakeupStyle:     str(raw, "makeup_style"),
		BodyProportions: str(raw, "body_proportions"),
	}
	if alias := str(raw, "style_level"); alias != "" {
		p.StyleLevel = alias
	}
	return p, nil
}

// WithDefaults fills the fields every downstream prompt relies on.
func WithDefaults(p model.Profile) model.Profile {
	if p.AgeRange == "" {
		p.AgeRange = "adult"
	}
	if p.BodyType == "" {
		p.BodyType = "average"
	}
	if p.StyleLevel == "" {
		p.StyleLevel = "elegant"
	}
	return p
}

func str(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"dance-studio/internal/gemini"
	"dance-studio/internal/model"
)

const instruction = `Analyze the person in this photo for recreating them in a dance video.
Answer with a single JSON object with these string fields:
detailed_prompt (a detailed description usable as a text-to-image prompt),
age_range, body_type, facial_features, style_level (elegance level of the look),
pose, clothing, hair, hair_color, background, ethnicity, skin_tone, eye_color,
makeup_style, body_proportions.
Be descriptive, respectful and professional. Use an empty string when a field cannot be determined.`

type describer interface {
	DescribeImage(ctx context.Context, instruction string, img gemini.ImageInput) (string, error)
}

// Gemini analyzes images directly with a Gemini vision model.
type Gemini struct {
	client describer
}

func NewGemini(client *gemini.Client) *Gemini {
	return &Gemini{client: client}
}

// Analyze ignores apiKey; the Gemini credential is process-wide.
func (g *Gemini) Analyze(ctx context.Context, imageData, _ string) (model.Profile, error) {
	img, ok := gemini.ImageFromDataURL(imageData)
	if !ok {
		return model.Profile{}, &Error{StatusCode: http.StatusBadRequest, Message: "imageData must be a base64 data URI"}
	}

	text, err := g.client.DescribeImage(ctx, instruction, img)
	if err != nil {
		var se *gemini.StatusError
		if errors.As(err, &se) {
			switch se.StatusCode {
			case http.StatusTooManyRequests:
				return model.Profile{}, ErrRateLimited
			case http.StatusPaymentRequired:
				return model.Profile{}, ErrQuotaExhausted
			}
		}
		return model.Profile{}, fmt.Errorf("analysis: %w", err)
	}

	p, err := Decode([]byte(text))
	if err != nil {
		return model.Profile{}, errors.New("analysis: model returned invalid JSON")
	}
	return WithDefaults(p), nil
}

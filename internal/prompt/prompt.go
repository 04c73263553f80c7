package prompt

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"dance-studio/internal/model"
)

const (
	// ImagePromptBudget is the text-to-image provider's prompt limit.
	ImagePromptBudget = 800
	// VideoPromptBudget is stricter than the image budget.
	VideoPromptBudget = 500
)

const closingInstruction = "keep the face, hair, skin tone, body proportions and outfit of the same person unchanged"

// Rand is the random source used for video prompts. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// BuildImagePrompt projects the richest analysis field into the base prompt.
func BuildImagePrompt(p model.Profile) string {
	return strings.TrimSpace(p.DetailedPrompt)
}

// BuildDiversePrompts returns count variants of base. Variant i takes
// entry i mod len from each catalog, so the output depends only on the
// inputs. Each variant is optimized to ImagePromptBudget.
func BuildDiversePrompts(base string, count int, p model.Profile) []string {
	if count <= 0 {
		return nil
	}

	base = strings.TrimSpace(base)
	preamble := "Hyper-realistic photo of the person from the reference"
	if base != "" {
		preamble = "Hyper-realistic photo of " + base
	}
	identity := IdentityClause(p)

	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		parts := []string{
			preamble,
			identity,
			environments[i%len(environments)],
			poses[i%len(poses)],
			cameraAngles[i%len(cameraAngles)],
			lightingSetups[i%len(lightingSetups)],
			technicalSpecs[i%len(technicalSpecs)],
			closingInstruction,
		}
		out = append(out, Optimize(joinClauses(parts), ImagePromptBudget))
	}
	return out
}

// IdentityClause restates every non-empty identity field of the profile.
func IdentityClause(p model.Profile) string {
	parts := []string{"identity lock: the exact same person"}
	add := func(value, format string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		parts = append(parts, fmt.Sprintf(format, value))
	}

	add(p.AgeRange, "age %s")
	add(p.Ethnicity, "%s ethnicity")
	add(p.SkinTone, "%s skin tone")
	add(p.FacialFeatures, "face: %s")
	add(p.EyeColor, "%s eyes")
	add(p.Hair, "hair: %s")
	add(p.HairColor, "%s hair color")
	add(p.MakeupStyle, "%s makeup")
	add(p.BodyType, "%s body type")
	add(p.BodyProportions, "%s body proportions")
	add(p.Clothing, "wearing %s")
	add(p.StyleLevel, "%s style")

	return strings.Join(parts, ", ")
}

// BuildVideoPrompt describes motion only; appearance comes from the
// source image. The result depends on rnd, so it is not reproducible
// across sources. A nil rnd uses the global generator.
func BuildVideoPrompt(rnd Rand) string {
	pick := rand.IntN
	if rnd != nil {
		pick = rnd.IntN
	}
	movement := videoMovements[pick(len(videoMovements))]
	camera := videoCameras[pick(len(videoCameras))]
	return Optimize(joinClauses([]string{movement, camera}), VideoPromptBudget)
}

// BuildCaption renders the social caption for a finished job.
func BuildCaption(p model.Profile) string {
	return fmt.Sprintf(`Amazing Dance Performance!

Watch this stunning dance video
Style focus: %s
Feel the rhythm and energy
Outfit: %s

#Dance #Performance #Viral #Amazing #Trending #DanceVideo #DancePerformance #Dancer #DanceLife #ViralVideo #TrendingNow #MustWatch`,
		strings.TrimSpace(p.StyleLevel), strings.TrimSpace(p.Clothing))
}

func joinClauses(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ", ")
}

package generation

import "github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"

// Background values understood by the provider
const (
	BackgroundTransparent = "transparent"
	BackgroundOpaque      = "opaque"
)

// Prompt is the fixed instruction and background setting for one (mode, plan) pair
type Prompt struct {
	Text       string
	Background string
}

const (
	outlineBase = "Redraw this photo as clean line art with confident, even-weight strokes. " +
		"Keep the subject's proportions and likeness. Do not crop any part of the subject."

	stickerShape = " Trace a single smooth die-cut contour around the whole subject, offset evenly, " +
		"and leave everything outside the contour empty."

	plainShape = " Draw a plain outline drawing centered on a clean white page with no border."

	monochrome = " Use black ink only: no color, no gray fills, no shading."

	fullColor = " Preserve the original colors as flat fills inside the linework, without gradients."
)

var prompts = map[models.Mode]map[models.Plan]Prompt{
	models.ModeSticker: {
		models.PlanFree: {Text: outlineBase + stickerShape + monochrome, Background: BackgroundTransparent},
		models.PlanPro:  {Text: outlineBase + stickerShape + fullColor, Background: BackgroundTransparent},
	},
	models.ModeImage: {
		models.PlanFree: {Text: outlineBase + plainShape + monochrome, Background: BackgroundOpaque},
		models.PlanPro:  {Text: outlineBase + plainShape + fullColor, Background: BackgroundOpaque},
	},
}

// SelectPrompt returns the prompt for a mode and plan. Unknown plans get the free prompt.
func SelectPrompt(mode models.Mode, plan models.Plan) Prompt {
	byPlan, ok := prompts[mode]
	if !ok {
		byPlan = prompts[models.ModeImage]
	}
	if p, ok := byPlan[plan]; ok {
		return p
	}
	return byPlan[models.PlanFree]
}

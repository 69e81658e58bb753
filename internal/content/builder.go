package content

import (
	"fmt"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/constants"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
)

// Build converts a finished draft into the exact payload shape the gateway
// expects for its content kind. Pure: no I/O, no clock.
func Build(draft *models.StatusDraft) (models.StatusContent, error) {
	if draft == nil {
		return models.StatusContent{}, fmt.Errorf("nil draft")
	}

	color := draft.Color
	if color == "" {
		color = constants.DefaultStatusColor
	}

	switch draft.Kind {
	case models.StatusTypeText:
		if draft.Text == "" {
			return models.StatusContent{}, fmt.Errorf("text status requires text")
		}
		return models.StatusContent{
			Type:            models.StatusTypeText,
			Text:            draft.Text,
			BackgroundColor: color,
			Font:            constants.DefaultStatusFont,
			LinkPreview:     true,
		}, nil

	case models.StatusTypeImage, models.StatusTypeVideo:
		if draft.MediaURL == "" {
			return models.StatusContent{}, fmt.Errorf("%s status requires media", draft.Kind)
		}
		return models.StatusContent{
			Type:     draft.Kind,
			MediaURL: draft.MediaURL,
			Caption:  draft.Text,
		}, nil

	case models.StatusTypeVoice:
		if draft.MediaURL == "" {
			return models.StatusContent{}, fmt.Errorf("voice status requires media")
		}
		return models.StatusContent{
			Type:            models.StatusTypeVoice,
			MediaURL:        draft.MediaURL,
			PTT:             true,
			BackgroundColor: color,
		}, nil

	default:
		return models.StatusContent{}, fmt.Errorf("unsupported status kind %q", draft.Kind)
	}
}

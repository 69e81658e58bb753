package content

import (
	"testing"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildText(t *testing.T) {
	got, err := Build(&models.StatusDraft{Kind: models.StatusTypeText, Text: "hello", Color: "#FF0000"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusTypeText, got.Type)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "#FF0000", got.BackgroundColor)
	assert.True(t, got.LinkPreview)
	assert.Empty(t, got.MediaURL)
}

func TestBuildTextDefaultsColor(t *testing.T) {
	got, err := Build(&models.StatusDraft{Kind: models.StatusTypeText, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "#25D366", got.BackgroundColor)
}

func TestBuildImageCarriesCaption(t *testing.T) {
	got, err := Build(&models.StatusDraft{
		Kind:     models.StatusTypeImage,
		Text:     "a caption",
		MediaURL: "https://cdn.example/x.jpg",
		Color:    "#FF0000",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusTypeImage, got.Type)
	assert.Equal(t, "https://cdn.example/x.jpg", got.MediaURL)
	assert.Equal(t, "a caption", got.Caption)
	// Media statuses ignore the palette.
	assert.Empty(t, got.BackgroundColor)
	assert.Empty(t, got.Text)
}

func TestBuildVoiceSetsPTT(t *testing.T) {
	got, err := Build(&models.StatusDraft{
		Kind:     models.StatusTypeVoice,
		MediaURL: "https://cdn.example/v.ogg",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusTypeVoice, got.Type)
	assert.True(t, got.PTT)
	assert.Equal(t, "#25D366", got.BackgroundColor)
}

func TestBuildRejectsIncompleteDrafts(t *testing.T) {
	_, err := Build(nil)
	assert.Error(t, err)

	_, err = Build(&models.StatusDraft{Kind: models.StatusTypeText})
	assert.Error(t, err)

	_, err = Build(&models.StatusDraft{Kind: models.StatusTypeImage, Text: "no media"})
	assert.Error(t, err)

	_, err = Build(&models.StatusDraft{Kind: models.StatusTypeVoice})
	assert.Error(t, err)

	_, err = Build(&models.StatusDraft{Kind: "sticker", Text: "x"})
	assert.Error(t, err)
}

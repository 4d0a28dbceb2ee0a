package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineRow(t *testing.T) {
	m := InlineRow(
		InlineBtn{Text: "✏️ Edit", Unique: "edit_request"},
		InlineBtn{Text: "✅ Post", Unique: "post_request"},
	)
	require.Len(t, m.InlineKeyboard, 1)
	require.Len(t, m.InlineKeyboard[0], 2)
	assert.Equal(t, "✏️ Edit", m.InlineKeyboard[0][0].Text)
	assert.Equal(t, "edit_request", m.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "post_request", m.InlineKeyboard[0][1].Unique)
	assert.Empty(t, m.InlineKeyboard[0][1].Data)
}

func TestInlineButtonsSkipsEmpty(t *testing.T) {
	m := InlineButtons(
		InlineBtn{Text: "📩 Open Request", Unique: "open_request"},
		InlineBtn{Text: "", Unique: "ignored"},
	)
	require.Len(t, m.InlineKeyboard, 1)
	assert.Equal(t, "open_request", m.InlineKeyboard[0][0].Unique)
}

func TestInlineButtonPayload(t *testing.T) {
	m := InlineRow(InlineBtn{Text: "x", Unique: "edit_request", Data: "42"})
	assert.Equal(t, "edit_request", m.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "42", m.InlineKeyboard[0][0].Data)
}

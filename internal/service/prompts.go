package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/schedule"
	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"
)

// Reply identifiers carried by interactive prompts. A stale reply id is
// how we detect that a contact tapped a prompt from an earlier flow.
const (
	replyAccountPrefix = "account_"
	replyColorPrefix   = "color_"
	replyDayPrefix     = "day_"
	replyJobPrefix     = "job_"

	replyActionSend     = "action_send"
	replyActionSchedule = "action_schedule"
	replyActionCancel   = "action_cancel"

	replySendNow    = "send_now"
	replyReschedule = "reschedule"
	replyCancelJob  = "cancel"
	replyReactions  = "reactions"

	replyViews          = "views"
	replyReactionsHeart = "reactions_heart"
	replyReactionsOther = "reactions_other"
	replyDelete         = "delete"
	replyViewAll        = "view_all"
	replyMenu           = "menu"
)

const (
	msgNotAuthorized = "Sorry, this number is not authorized to post statuses. " +
		"Ask the account owner to add you and try again."
	msgUnsupported = "I can only turn text, images, videos and voice notes " +
		"into statuses. Send one of those to get started."
	msgCancelled      = "Cancelled. Send new content whenever you're ready."
	msgRestarted      = "Let's start over. Send the content you want to post."
	msgChooseAccount  = "Which account should this go out from?"
	msgChooseColor    = "Pick a background color for your status:"
	msgChooseAction   = "What would you like to do with this status?"
	msgChooseDay      = "When should it be posted?"
	msgChooseTime     = "What time? Send it like 14:30 or 7."
	msgInvalidTime    = "I couldn't read that time. Try something like 14:30 or 7."
	msgTimePassed     = "That time has already passed. Send a later time."
	msgNothingPending = "There are no scheduled statuses right now."
	msgMenuHelp       = "Send me text, an image, a video or a voice note and I'll " +
		"post it as a status.\n\nCommands:\n" +
		"• statuses / סטטוסים – see what's scheduled\n" +
		"• cancel / ביטול – abandon the current draft\n" +
		"• menu / תפריט – this message"
)

func accountListSections(conns []models.Connection) []types.ListSection {
	rows := make([]types.ListRow, 0, len(conns))
	for _, c := range conns {
		desc := c.OwnerName
		if c.Phone != "" {
			desc = fmt.Sprintf("%s · %s", c.OwnerName, c.Phone)
		}
		rows = append(rows, types.ListRow{
			ID:          replyAccountPrefix + strconv.FormatInt(c.ID, 10),
			Title:       c.DisplayName,
			Description: desc,
		})
	}
	return []types.ListSection{{Title: "Accounts", Rows: rows}}
}

func colorListSections(colors []string) []types.ListSection {
	rows := make([]types.ListRow, 0, len(colors))
	for _, c := range colors {
		id := strings.TrimPrefix(c, "#")
		rows = append(rows, types.ListRow{
			ID:    replyColorPrefix + id,
			Title: colorTitle(id),
		})
	}
	return []types.ListSection{{Title: "Colors", Rows: rows}}
}

// colorTitle gives common palette entries a readable name and falls back
// to the hex value itself.
func colorTitle(hex string) string {
	switch strings.ToLower(hex) {
	case "25d366":
		return "Green"
	case "ff0000":
		return "Red"
	case "0000ff":
		return "Blue"
	case "ffff00":
		return "Yellow"
	case "000000":
		return "Black"
	case "ffffff":
		return "White"
	case "ff8c00":
		return "Orange"
	case "800080":
		return "Purple"
	case "ffc0cb":
		return "Pink"
	case "40e0d0":
		return "Turquoise"
	default:
		return "#" + hex
	}
}

func actionButtons() []types.Button {
	return []types.Button{
		{ID: replyActionSend, Title: "Send now"},
		{ID: replyActionSchedule, Title: "Schedule"},
		{ID: replyActionCancel, Title: "Cancel"},
	}
}

func dayListSections(choices []schedule.DayChoice) []types.ListSection {
	rows := make([]types.ListRow, 0, len(choices))
	for _, ch := range choices {
		rows = append(rows, types.ListRow{
			ID:          replyDayPrefix + strconv.Itoa(ch.Offset),
			Title:       ch.Label,
			Description: ch.Date.Format("02/01/2006"),
		})
	}
	return []types.ListSection{{Title: "Days", Rows: rows}}
}

func statusListSections(pending, sent []models.QueueItem, loc *time.Location) []types.ListSection {
	var sections []types.ListSection

	if len(pending) > 0 {
		rows := make([]types.ListRow, 0, len(pending))
		for _, it := range pending {
			rows = append(rows, types.ListRow{
				ID:          replyJobPrefix + strconv.FormatInt(it.ID, 10),
				Title:       describeQueueItem(&it),
				Description: describeSchedule(it.ScheduledFor, loc),
			})
		}
		sections = append(sections, types.ListSection{Title: "Scheduled", Rows: rows})
	}

	if len(sent) > 0 {
		rows := make([]types.ListRow, 0, len(sent))
		for _, it := range sent {
			desc := "Posted"
			if it.SentAt != nil {
				desc = "Posted " + it.SentAt.In(loc).Format("Mon 02/01 at 15:04")
			}
			rows = append(rows, types.ListRow{
				ID:          replyJobPrefix + strconv.FormatInt(it.ID, 10),
				Title:       describeQueueItem(&it),
				Description: desc,
			})
		}
		sections = append(sections, types.ListSection{Title: "Live now", Rows: rows})
	}

	return sections
}

func describeQueueItem(it *models.QueueItem) string {
	switch it.StatusType {
	case models.StatusTypeText:
		return truncate(it.Content.Text, 24)
	case models.StatusTypeImage:
		return "📷 Image" + captionSuffix(it.Content.Caption)
	case models.StatusTypeVideo:
		return "🎬 Video" + captionSuffix(it.Content.Caption)
	case models.StatusTypeVoice:
		return "🎤 Voice note"
	default:
		return string(it.StatusType)
	}
}

func captionSuffix(caption string) string {
	if caption == "" {
		return ""
	}
	return " · " + truncate(caption, 16)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func describeSchedule(at *time.Time, loc *time.Location) string {
	if at == nil {
		return "As soon as possible"
	}
	return at.In(loc).Format("Mon 02/01 at 15:04")
}

func scheduledActionButtons() []types.Button {
	return []types.Button{
		{ID: replySendNow, Title: "Send now"},
		{ID: replyReschedule, Title: "Reschedule"},
		{ID: replyCancelJob, Title: "Cancel it"},
	}
}

func sentActionButtons() []types.Button {
	return []types.Button{
		{ID: replyViews, Title: "Views"},
		{ID: replyReactions, Title: "Reactions"},
		{ID: replyDelete, Title: "Delete"},
	}
}

func afterSendSections() []types.ListSection {
	return []types.ListSection{{
		Title: "Status actions",
		Rows: []types.ListRow{
			{ID: replyViews, Title: "👀 Who viewed it"},
			{ID: replyReactionsHeart, Title: "❤️ Heart reactions"},
			{ID: replyReactionsOther, Title: "✨ Other reactions"},
			{ID: replyDelete, Title: "🗑 Delete the status"},
			{ID: replyViewAll, Title: "📋 All scheduled statuses"},
			{ID: replyMenu, Title: "🏠 Main menu"},
		},
	}}
}

func sentConfirmation(conn *models.Connection) string {
	return fmt.Sprintf("✅ Your status was posted on %s.", conn.DisplayName)
}

func queuedConfirmation() string {
	return "✅ Your status is queued and will go out shortly."
}

func scheduledConfirmation(at time.Time, loc *time.Location) string {
	return fmt.Sprintf("🗓 Scheduled for %s.", at.In(loc).Format("Monday 02/01 at 15:04"))
}

func failureNotice(errMsg string) string {
	if errMsg == "" {
		return "❌ Your status could not be posted. Please try again."
	}
	return fmt.Sprintf("❌ Your status could not be posted: %s", errMsg)
}

func viewsSummary(views []models.StatusView, loc *time.Location) string {
	if len(views) == 0 {
		return "No views yet (0)."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👀 %d view(s):\n", len(views))
	for _, v := range views {
		name := v.ViewerName
		if name == "" {
			name = v.ViewerPhone
		}
		fmt.Fprintf(&b, "• %s – %s\n", name, v.ViewedAt.In(loc).Format("15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func allReactionsSummary(reactions []models.StatusReaction, loc *time.Location) string {
	if len(reactions) == 0 {
		return "No reactions yet (0)."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d reaction(s):\n", len(reactions))
	for _, r := range reactions {
		name := r.ReactorName
		if name == "" {
			name = r.ReactorPhone
		}
		fmt.Fprintf(&b, "• %s %s – %s\n", r.Emoji, name, r.ReactedAt.In(loc).Format("15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func reactionsSummary(reactions []models.StatusReaction, loc *time.Location, hearts bool) string {
	var filtered []models.StatusReaction
	for _, r := range reactions {
		if (r.Emoji == models.HeartEmoji) == hearts {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		if hearts {
			return "No heart reactions yet (0)."
		}
		return "No other reactions yet (0)."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d reaction(s):\n", len(filtered))
	for _, r := range filtered {
		name := r.ReactorName
		if name == "" {
			name = r.ReactorPhone
		}
		fmt.Fprintf(&b, "• %s %s – %s\n", r.Emoji, name, r.ReactedAt.In(loc).Format("15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

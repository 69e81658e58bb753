package models

import (
	"fmt"
	"time"
)

// State identifies where a contact currently is in the guided conversation.
type State string

const (
	StateIdle               State = "idle"
	StateSelectAccount      State = "select_account"
	StateSelectColor        State = "select_color"
	StateSelectAction       State = "select_action"
	StateSelectScheduleDay  State = "select_schedule_day"
	StateSelectScheduleTime State = "select_schedule_time"
	StateViewScheduled      State = "view_scheduled"
	StateViewStatusActions  State = "view_status_actions"
	StateAfterSendMenu      State = "after_send_menu"
)

// ParseState maps a stored state value onto the closed state set. Anything
// unrecognized degrades to idle so a bad row can never wedge a conversation.
func ParseState(s string) State {
	switch State(s) {
	case StateSelectAccount, StateSelectColor, StateSelectAction,
		StateSelectScheduleDay, StateSelectScheduleTime,
		StateViewScheduled, StateViewStatusActions, StateAfterSendMenu:
		return State(s)
	default:
		return StateIdle
	}
}

// SelectionPurpose distinguishes why an account selection list was offered.
type SelectionPurpose string

const (
	PurposeNewStatus     SelectionPurpose = "new_status"
	PurposeViewScheduled SelectionPurpose = "view_scheduled"
)

// StatusActionTag tells the status-actions state what kind of record the
// contact is acting on.
type StatusActionTag string

const (
	TagScheduled StatusActionTag = "scheduled"
	TagSent      StatusActionTag = "sent"
)

// SelectAccountData is the payload for the select_account state.
type SelectAccountData struct {
	ConnectionIDs []int64          `json:"connectionIds"`
	Purpose       SelectionPurpose `json:"purpose"`
}

// SelectColorData is the payload for the select_color state.
type SelectColorData struct {
	ConnectionID int64    `json:"connectionId"`
	Colors       []string `json:"colors"`
}

// SelectActionData is the payload for the select_action state.
type SelectActionData struct {
	ConnectionID int64 `json:"connectionId"`
}

// ScheduleDayData is the payload for the select_schedule_day state.
type ScheduleDayData struct {
	ConnectionID int64  `json:"connectionId"`
	RescheduleID *int64 `json:"rescheduleId,omitempty"`
}

// ScheduleTimeData is the payload for the select_schedule_time state.
// Date is the chosen calendar day in the owner's civil convention,
// formatted as 2006-01-02.
type ScheduleTimeData struct {
	ConnectionID int64  `json:"connectionId"`
	Date         string `json:"date"`
	RescheduleID *int64 `json:"rescheduleId,omitempty"`
}

// ViewScheduledData is the payload for the view_scheduled state.
type ViewScheduledData struct {
	ConnectionID int64 `json:"connectionId"`
}

// StatusActionsData is the payload for the view_status_actions state.
type StatusActionsData struct {
	ConnectionID int64           `json:"connectionId"`
	QueueItemID  int64           `json:"queueItemId"`
	Tag          StatusActionTag `json:"tag"`
}

// AfterSendData is the payload for the after_send_menu state.
type AfterSendData struct {
	ConnectionID int64 `json:"connectionId"`
	QueueItemID  int64 `json:"queueItemId"`
}

// StateData is a tagged union keyed by the conversation state: exactly the
// member matching the current state may be set. It replaces the loosely
// typed per-state blobs the flows used to carry.
type StateData struct {
	SelectAccount *SelectAccountData `json:"selectAccount,omitempty"`
	SelectColor   *SelectColorData   `json:"selectColor,omitempty"`
	SelectAction  *SelectActionData  `json:"selectAction,omitempty"`
	ScheduleDay   *ScheduleDayData   `json:"scheduleDay,omitempty"`
	ScheduleTime  *ScheduleTimeData  `json:"scheduleTime,omitempty"`
	ViewScheduled *ViewScheduledData `json:"viewScheduled,omitempty"`
	StatusActions *StatusActionsData `json:"statusActions,omitempty"`
	AfterSend     *AfterSendData     `json:"afterSend,omitempty"`
}

// Validate checks that the payload shape matches the given state. Idle
// requires no payload; every other state requires its own member.
func (d *StateData) Validate(state State) error {
	if state == StateIdle {
		return nil
	}
	if d == nil {
		return fmt.Errorf("state %s requires a payload", state)
	}

	var ok bool
	switch state {
	case StateSelectAccount:
		ok = d.SelectAccount != nil && len(d.SelectAccount.ConnectionIDs) > 0
	case StateSelectColor:
		ok = d.SelectColor != nil && len(d.SelectColor.Colors) > 0
	case StateSelectAction:
		ok = d.SelectAction != nil
	case StateSelectScheduleDay:
		ok = d.ScheduleDay != nil
	case StateSelectScheduleTime:
		ok = d.ScheduleTime != nil && d.ScheduleTime.Date != ""
	case StateViewScheduled:
		ok = d.ViewScheduled != nil
	case StateViewStatusActions:
		ok = d.StatusActions != nil && d.StatusActions.QueueItemID > 0
	case StateAfterSendMenu:
		ok = d.AfterSend != nil && d.AfterSend.QueueItemID > 0
	default:
		return fmt.Errorf("unknown state %q", state)
	}

	if !ok {
		return fmt.Errorf("payload does not match state %s", state)
	}
	return nil
}

// StatusDraft is the in-progress content a contact is composing.
type StatusDraft struct {
	Kind     StatusType `json:"kind"`
	Text     string     `json:"text,omitempty"`
	MediaURL string     `json:"mediaUrl,omitempty"`
	Color    string     `json:"color,omitempty"`
}

// ConversationState is the durable per-phone conversation record.
type ConversationState struct {
	Phone                 string
	State                 State
	Data                  *StateData
	Draft                 *StatusDraft
	ConnectionID          *int64
	BlockedUntil          *time.Time
	NotifiedNotAuthorized bool
	LastMessageAt         time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Blocked reports whether inbound messages from this phone should be
// dropped silently at the given instant.
func (c *ConversationState) Blocked(now time.Time) bool {
	return c.BlockedUntil != nil && c.BlockedUntil.After(now)
}

package domain

import "time"

// EventKind enumerates the inbound interaction shapes delivered by the
// transport adapter. The core never sees platform envelope details.
type EventKind string

const (
	EventKindText    EventKind = "text"
	EventKindButton  EventKind = "button"
	EventKindContact EventKind = "contact-share"
)

// InboundEvent is one unit of user interaction requiring state-machine
// processing.
type InboundEvent struct {
	UserID    int64
	Timestamp time.Time
	Kind      EventKind
	Payload   string
	// Profile fields the platform attaches to every update; used to seed
	// the name on first contact.
	FirstName string
	LastName  string
}

// Reply is the abstract outbound effect. The transport/presentation layer
// owns rendering and localization; the core only selects a message key, the
// substitution data and a keyboard spec name.
type Reply struct {
	UserID        int64          `json:"user_id"`
	MessageKey    string         `json:"message_key"`
	Substitutions map[string]any `json:"substitutions,omitempty"`
	KeyboardSpec  string         `json:"keyboard_spec,omitempty"`
}

// Message keys the core emits. Localized strings live with the transport
// adapter, keyed by these values.
const (
	MsgChooseLanguage     = "onboarding.choose_language"
	MsgSharePhone         = "onboarding.share_phone"
	MsgChooseCampus       = "onboarding.choose_campus"
	MsgRegistered         = "onboarding.completed"
	MsgInvalidInput       = "common.invalid_input"
	MsgSlowDown           = "common.slow_down"
	MsgServiceUnavailable = "common.service_unavailable"
	MsgUnknownCommand     = "common.unknown_command"

	MsgOrderCreated      = "order.created"
	MsgOrderAccepted     = "order.accepted"
	MsgOrderInTransit    = "order.in_transit"
	MsgOrderDelivered    = "order.delivered"
	MsgOrderCancelled    = "order.cancelled"
	MsgOrderNotAllowed   = "order.not_allowed"
	MsgOrderTrack        = "order.track"
	MsgOrderTrackEmpty   = "order.track_empty"
	MsgRatingSaved       = "order.rating_saved"
	MsgCourierNewOrder   = "courier.order_available"
	MsgCourierRated      = "courier.rated"

	MsgProfile       = "profile.card"
	MsgLevelUp       = "profile.level_up"
	MsgLeaderboard   = "leaderboard.top"
	MsgSettingsSaved = "settings.saved"

	MsgAdminDigest = "admin.daily_digest"

	// Keyboard spec names.
	KbLanguages = "kb:languages"
	KbContact   = "kb:contact"
	KbCampuses  = "kb:campuses"
	KbMainMenu  = "kb:main_menu"
	KbRating    = "kb:rating"
)

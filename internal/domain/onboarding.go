package domain

import "time"

// OnboardingStep enumerates the first-contact flow states. Absence of an
// OnboardingState row for an unregistered user means LANGUAGE_SELECT;
// completion is represented by the row being deleted and a User existing.
type OnboardingStep string

const (
	StepLanguageSelect OnboardingStep = "LANGUAGE_SELECT"
	StepPhonePending   OnboardingStep = "PHONE_PENDING"
	StepCampusPending  OnboardingStep = "CAMPUS_PENDING"
)

// OnboardingState holds the partial registration data accumulated while a
// user walks the language -> phone -> campus flow. One row per user.
type OnboardingState struct {
	TelegramID int64
	Step       OnboardingStep
	FirstName  string
	LastName   string
	Language   string
	Phone      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

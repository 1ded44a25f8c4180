package models

import "time"

// Survey is a catalog entry sourced from the survey provider
type Survey struct {
	ID          int       `json:"id" db:"id"`
	CpxSurveyID string    `json:"cpx_survey_id" db:"cpx_survey_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Reward      float64   `json:"reward" db:"reward"`
	Duration    int       `json:"duration" db:"duration"` // minutes
	Category    string    `json:"category" db:"category"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// UserSurvey tracks one user's attempt at one survey
type UserSurvey struct {
	ID          int        `json:"id" db:"id"`
	UserID      int        `json:"user_id" db:"user_id"`
	SurveyID    int        `json:"survey_id" db:"survey_id"`
	CpxSurveyID string     `json:"cpx_survey_id" db:"cpx_survey_id"`
	Status      string     `json:"status" db:"status"` // started, completed, failed
	Reward      *float64   `json:"reward,omitempty" db:"reward"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

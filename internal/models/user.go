package models

import "time"

// User represents a registered platform member
// @Description User structure
type User struct {
	ID                  int       `json:"id" example:"1"`                            // User ID
	Username            string    `json:"username" example:"budi88"`                 // Unique username
	Email               string    `json:"email" example:"user@example.com"`          // User email
	FirstName           string    `json:"firstName" example:"Budi"`                  // User first name
	LastName            string    `json:"lastName" example:"Santoso"`                // User last name
	DateOfBirth         string    `json:"dateOfBirth,omitempty" example:"1995-04-17"`
	Gender              string    `json:"gender,omitempty" example:"male"`
	Country             string    `json:"country" example:"ID"`
	ZipCode             string    `json:"zipCode,omitempty" example:"40111"`
	Balance             float64   `json:"balance" example:"37500.00"`        // Spendable balance in local currency
	TotalEarnings       float64   `json:"totalEarnings" example:"112500.00"` // Lifetime earnings, never decreases
	CompletedSurveys    int       `json:"completedSurveys" example:"3"`
	ProfileCompleteness int       `json:"profileCompleteness" example:"80"`
	IsActive            bool      `json:"isActive"`
	CreatedAt           time.Time `json:"createdAt"`
}

// UserStats is the dashboard summary for a user
type UserStats struct {
	TotalEarnings    float64 `json:"totalEarnings"`
	CompletedSurveys int     `json:"completedSurveys"`
	CompletionRate   int     `json:"completionRate"`
	AvailableSurveys int     `json:"availableSurveys"`
}

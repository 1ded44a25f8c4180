package database

import "database/sql"

// Migrate creates the schema if it does not exist. The UNIQUE constraint on
// transactions.reference_id is load-bearing: it is what makes concurrent
// duplicate postback delivery resolve to a single credited transaction, so
// it must live here in the storage layer rather than in application checks.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			date_of_birth TEXT DEFAULT '',
			gender TEXT DEFAULT '',
			country TEXT DEFAULT 'ID',
			zip_code TEXT DEFAULT '',
			balance NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			total_earnings NUMERIC(12,2) NOT NULL DEFAULT 0,
			completed_surveys INTEGER NOT NULL DEFAULT 0,
			profile_completeness INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS surveys (
			id SERIAL PRIMARY KEY,
			cpx_survey_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reward NUMERIC(10,2) NOT NULL,
			duration INTEGER NOT NULL DEFAULT 0,
			category TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_surveys (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			survey_id INTEGER NOT NULL DEFAULT 0,
			cpx_survey_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reward NUMERIC(10,2),
			started_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			type TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reference_id TEXT UNIQUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

package services

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/surveyku/backend/internal/audit"
	"github.com/surveyku/backend/internal/config"
	"github.com/surveyku/backend/internal/models"
)

// Rejection reasons, one per distinguishable failure so provider-side
// monitoring can tell configuration errors from fraud attempts.
var (
	ErrUnauthorizedSource = errors.New("unauthorized source address")
	ErrInvalidAppID       = errors.New("invalid app_id")
	ErrSignatureMismatch  = errors.New("invalid signature")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidReward      = errors.New("invalid reward amount")
)

// MissingFieldError names the absent postback parameter
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// PostbackParams is the flat key/value parameter set of one inbound
// notification, regardless of whether it arrived as query string, form
// body or JSON body.
type PostbackParams map[string]string

// PostbackResult reports what a processed postback did
type PostbackResult struct {
	TransID   string  `json:"trans_id"`
	Amount    float64 `json:"amount"`   // credited amount in local currency
	Currency  string  `json:"currency"` // local currency code
	Duplicate bool    `json:"duplicate"`
}

// PostbackService credits survey rewards reported by CPX Research. The
// whole pipeline short-circuits on the first failure; the source check runs
// before everything else so unauthorized callers learn nothing about the
// parameter contract.
type PostbackService struct {
	db      *sql.DB
	cfg     *config.CPXConfig
	audit   *audit.Logger
	allowed map[string]struct{}
}

func NewPostbackService(db *sql.DB, cfg *config.CPXConfig) *PostbackService {
	allowed := make(map[string]struct{}, len(cfg.AllowedIPs))
	for _, ip := range cfg.AllowedIPs {
		allowed[ip] = struct{}{}
	}
	return &PostbackService{
		db:      db,
		cfg:     cfg,
		audit:   audit.NewLogger(),
		allowed: allowed,
	}
}

var requiredPostbackFields = []string{"app_id", "user_id", "trans_id", "reward", "signature"}

// Process runs the full validation and crediting pipeline for one inbound
// postback. It is safe under concurrent delivery of the same trans_id: the
// UNIQUE constraint on transactions.reference_id decides the single winner
// and the loser reports duplicate success without touching any balance.
func (s *PostbackService) Process(ctx context.Context, sourceIP string, params PostbackParams) (*PostbackResult, error) {
	if _, ok := s.allowed[sourceIP]; !ok {
		log.Printf("[POSTBACK] Rejected postback from unauthorized IP: %s", sourceIP)
		s.audit.LogRejection(sourceIP, "unauthorized source")
		return nil, ErrUnauthorizedSource
	}

	for _, field := range requiredPostbackFields {
		if params[field] == "" {
			log.Printf("[POSTBACK] Missing required field: %s", field)
			s.audit.LogRejection(sourceIP, "missing field "+field)
			return nil, &MissingFieldError{Field: field}
		}
	}

	if params["app_id"] != s.cfg.AppID {
		log.Printf("[POSTBACK] Invalid app_id: %s", params["app_id"])
		s.audit.LogRejection(sourceIP, "invalid app_id")
		return nil, ErrInvalidAppID
	}

	// The signature covers the raw user_id, trans_id and reward strings
	// exactly as received, never the currency and never re-formatted
	// numbers. Hex digests compare case-sensitively.
	if !s.verifySignature(params["user_id"], params["trans_id"], params["reward"], params["signature"]) {
		log.Printf("[POSTBACK] Invalid signature for user %s", params["user_id"])
		s.audit.LogRejection(sourceIP, "signature mismatch")
		return nil, ErrSignatureMismatch
	}

	reward, err := strconv.ParseFloat(params["reward"], 64)
	if err != nil || reward <= 0 {
		log.Printf("[POSTBACK] Unparseable reward %q for user %s", params["reward"], params["user_id"])
		s.audit.LogRejection(sourceIP, "invalid reward")
		return nil, ErrInvalidReward
	}

	userID, err := strconv.Atoi(params["user_id"])
	if err != nil {
		log.Printf("[POSTBACK] Non-numeric user_id: %s", params["user_id"])
		s.audit.LogRejection(sourceIP, "unknown user")
		return nil, ErrUserNotFound
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1`, userID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			log.Printf("[POSTBACK] User not found: %d", userID)
			s.audit.LogRejection(sourceIP, "unknown user")
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	transID := params["trans_id"]
	localAmount := s.convertToLocal(reward, params["currency"])

	// Fast path for provider retries: an existing transaction with this
	// reference means the credit already happened.
	var existingID int
	err = s.db.QueryRowContext(ctx, `SELECT id FROM transactions WHERE reference_id = $1`, transID).Scan(&existingID)
	if err == nil {
		log.Printf("[POSTBACK] Transaction already processed: %s", transID)
		s.audit.LogPostback(transID, params["user_id"], sourceIP, 0, "DUPLICATE")
		return &PostbackResult{TransID: transID, Amount: localAmount, Currency: s.cfg.LocalCurrency, Duplicate: true}, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}

	duplicate, err := s.credit(ctx, userID, transID, localAmount)
	if err != nil {
		s.audit.LogError(transID, params["user_id"], err)
		return nil, err
	}
	if duplicate {
		log.Printf("[POSTBACK] Lost insert race for transaction %s, already credited", transID)
		s.audit.LogPostback(transID, params["user_id"], sourceIP, 0, "DUPLICATE")
		return &PostbackResult{TransID: transID, Amount: localAmount, Currency: s.cfg.LocalCurrency, Duplicate: true}, nil
	}

	log.Printf("[POSTBACK] Credited %.2f %s to user %d for transaction %s", localAmount, s.cfg.LocalCurrency, userID, transID)
	s.audit.LogPostback(transID, params["user_id"], sourceIP, localAmount, "CREDITED")
	return &PostbackResult{TransID: transID, Amount: localAmount, Currency: s.cfg.LocalCurrency}, nil
}

// credit applies the reward inside one database transaction: insert the
// earning row first so the reference_id constraint settles races before any
// balance moves, then bump balance, lifetime earnings and the completed
// counter, then record the completed user survey. All or nothing.
func (s *PostbackService) credit(ctx context.Context, userID int, transID string, amount float64) (duplicate bool, err error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx, `
        INSERT INTO transactions (user_id, type, amount, description, status, reference_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, userID, models.TransactionEarning, amount,
		fmt.Sprintf("Survey completed via CPX Research - Transaction: %s", transID),
		models.StatusCompleted, transID, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return true, nil
		}
		return false, fmt.Errorf("failed to record transaction: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, `
        UPDATE users
        SET balance = balance + $1,
            total_earnings = total_earnings + $1,
            completed_surveys = completed_surveys + 1
        WHERE id = $2
    `, amount, userID)
	if err != nil {
		return false, fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, `
        INSERT INTO user_surveys (user_id, survey_id, cpx_survey_id, status, reward, completed_at)
        VALUES ($1, 0, $2, $3, $4, $5)
    `, userID, transID, models.StatusCompleted, amount, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to record survey completion: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit credit: %w", err)
	}
	return false, nil
}

func (s *PostbackService) verifySignature(userID, transID, reward, signature string) bool {
	sum := md5.Sum([]byte(userID + transID + reward + s.cfg.SecureHash))
	return hex.EncodeToString(sum[:]) == signature
}

func (s *PostbackService) convertToLocal(amount float64, currency string) float64 {
	if currency == "" {
		currency = "USD"
	}
	if currency == s.cfg.LocalCurrency {
		return amount
	}
	return amount * s.cfg.ConversionRate
}

package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/surveyku/backend/internal/audit"
	"github.com/surveyku/backend/internal/config"
	"github.com/surveyku/backend/internal/models"
)

type WalletService struct {
	db        *sql.DB
	cfg       *config.WalletConfig
	payouts   *PayoutService
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, cfg *config.WalletConfig, payouts *PayoutService) *WalletService {
	return &WalletService{
		db:        db,
		cfg:       cfg,
		payouts:   payouts,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// GetDashboardStats returns the user's earnings summary
// @Summary Dashboard statistics
// @Description Get total earnings, completed surveys, completion rate and available survey count
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.UserStats
// @Failure 401 {object} ErrorResponse
// @Router /dashboard/stats [get]
func (s *WalletService) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var stats models.UserStats
	err := s.db.QueryRow(`SELECT total_earnings, completed_surveys FROM users WHERE id = $1`, userID).
		Scan(&stats.TotalEarnings, &stats.CompletedSurveys)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[WALLET] Stats lookup failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch statistics", http.StatusInternalServerError, nil)
		}
		return
	}

	var attempts int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM user_surveys WHERE user_id = $1`, userID).Scan(&attempts); err != nil {
		log.Printf("[WALLET] Attempt count failed for user %d: %v", userID, err)
	}
	if attempts > 0 {
		stats.CompletionRate = stats.CompletedSurveys * 100 / attempts
		if stats.CompletionRate > 100 {
			stats.CompletionRate = 100
		}
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM surveys WHERE is_active = TRUE`).Scan(&stats.AvailableSurveys); err != nil {
		log.Printf("[WALLET] Survey count failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// ListTransactions returns the user's transaction history
// @Summary List transactions
// @Description Get the authenticated user's transaction history, newest first
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{transactions=[]models.Transaction}
// @Failure 401 {object} ErrorResponse
// @Router /transactions [get]
func (s *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(`
        SELECT id, user_id, type, amount, description, status, COALESCE(reference_id, ''), created_at
        FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT 100
    `, userID)
	if err != nil {
		log.Printf("[WALLET] Transaction list failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Description,
			&tx.Status, &tx.ReferenceID, &tx.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transactions": transactions})
}

// Withdraw debits the user's balance and queues a payout
// @Summary Request withdrawal
// @Description Debit the balance and create a pending withdrawal; the payout is queued for settlement
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.WithdrawalRequest true "Withdrawal request"
// @Success 200 {object} object{message=string,reference=string,newBalance=number}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /withdraw [post]
func (s *WalletService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req models.WithdrawalRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount < s.cfg.MinWithdrawal {
		SendErrorResponse(w, fmt.Sprintf("Minimum withdrawal is %.0f", s.cfg.MinWithdrawal), http.StatusBadRequest, nil)
		return
	}

	reference := "WD-" + uuid.New().String()
	newBalance, err := s.debit(userID, req.Amount, reference)
	if err != nil {
		if err == errInsufficientBalance {
			SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[WALLET] Withdrawal failed for user %d: %v", userID, err)
		s.audit.LogError(reference, strconv.Itoa(userID), err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogWithdrawal(reference, strconv.Itoa(userID), req.Amount, "PENDING")

	// Payout settlement happens after commit; a queue failure leaves the
	// withdrawal pending for the settlement sweeper to pick up later.
	if err := s.payouts.QueueWithdrawal(r.Context(), userID, reference, req.Amount, req.BankCode, req.BankAccount); err != nil {
		log.Printf("[WALLET] Failed to queue payout %s: %v", reference, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":    "Withdrawal request accepted",
		"reference":  reference,
		"newBalance": newBalance,
	})
}

var errInsufficientBalance = fmt.Errorf("insufficient balance")

// debit decrements the balance and records the pending withdrawal in one
// database transaction. The balance guard sits in the UPDATE itself so two
// racing withdrawals cannot overdraw.
func (s *WalletService) debit(userID int, amount float64, reference string) (float64, error) {
	dbTx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var newBalance float64
	err = dbTx.QueryRow(`
        UPDATE users SET balance = balance - $1
        WHERE id = $2 AND balance >= $1
        RETURNING balance
    `, amount, userID).Scan(&newBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, errInsufficientBalance
		}
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}

	_, err = dbTx.Exec(`
        INSERT INTO transactions (user_id, type, amount, description, status, reference_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, userID, models.TransactionWithdrawal, amount, "Balance withdrawal",
		models.StatusPending, reference, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit withdrawal: %w", err)
	}
	return newBalance, nil
}

func userIDFromContext(r *http.Request) (int, bool) {
	raw, _ := r.Context().Value("userID").(string)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/surveyku/backend/internal/config"
	"github.com/surveyku/backend/internal/models"
)

const surveyCacheTTL = 5 * time.Minute

type SurveyService struct {
	db     *sql.DB
	redis  *redis.Client
	cfg    *config.CPXConfig
	client *http.Client
}

func NewSurveyService(db *sql.DB, redisClient *redis.Client, cfg *config.CPXConfig) *SurveyService {
	return &SurveyService{
		db:     db,
		redis:  redisClient,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ListSurveys returns active catalog surveys
// @Summary List surveys
// @Description Get the active survey catalog
// @Tags surveys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{surveys=[]models.Survey}
// @Failure 500 {object} ErrorResponse
// @Router /surveys [get]
func (s *SurveyService) ListSurveys(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
        SELECT id, cpx_survey_id, title, description, reward, duration, category, is_active, created_at
        FROM surveys WHERE is_active = TRUE ORDER BY reward DESC
    `)
	if err != nil {
		log.Printf("[SURVEY] Failed to list surveys: %v", err)
		SendErrorResponse(w, "Failed to fetch surveys", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	surveys := []models.Survey{}
	for rows.Next() {
		var sv models.Survey
		if err := rows.Scan(&sv.ID, &sv.CpxSurveyID, &sv.Title, &sv.Description, &sv.Reward,
			&sv.Duration, &sv.Category, &sv.IsActive, &sv.CreatedAt); err != nil {
			log.Printf("[SURVEY] Failed to scan survey row: %v", err)
			SendErrorResponse(w, "Failed to fetch surveys", http.StatusInternalServerError, nil)
			return
		}
		surveys = append(surveys, sv)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch surveys", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"surveys": surveys})
}

// GetOfferWallURL builds the personalized CPX offer wall URL
// @Summary Get offer wall URL
// @Description Build the signed CPX Research offer wall URL for the authenticated user
// @Tags surveys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{url=string}
// @Failure 404 {object} ErrorResponse
// @Router /surveys/cpx-url [get]
func (s *SurveyService) GetOfferWallURL(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": s.buildOfferWallURL(user)})
}

// GetOfferWallQR renders the offer wall URL as a QR code for phone handoff
// @Summary Get offer wall QR code
// @Description Render the user's offer wall URL as a base64 PNG QR code
// @Tags surveys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{url=string,qrImage=string}
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /surveys/qr [get]
func (s *SurveyService) GetOfferWallQR(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	wallURL := s.buildOfferWallURL(user)
	qr, err := qrcode.New(wallURL, qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"url":     wallURL,
		"qrImage": base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// GetAvailableSurveys proxies the CPX live survey feed for the user
// @Summary Get available surveys
// @Description Fetch the live survey feed from CPX Research, cached for five minutes
// @Tags surveys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{}
// @Failure 502 {object} ErrorResponse
// @Router /surveys/cpx-available [get]
func (s *SurveyService) GetAvailableSurveys(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	cacheKey := fmt.Sprintf("cpx_surveys:%d", user.ID)
	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), cacheKey).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached)
			return
		}
	}

	body, err := s.fetchAvailableSurveys(r.Context(), user, clientAddr(r), r.UserAgent())
	if err != nil {
		log.Printf("[SURVEY] CPX feed fetch failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Survey provider unavailable", http.StatusBadGateway, nil)
		return
	}

	if s.redis != nil {
		if err := s.redis.Set(r.Context(), cacheKey, body, surveyCacheTTL).Err(); err != nil {
			log.Printf("[SURVEY] Failed to cache CPX feed for user %d: %v", user.ID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// StartSurvey records the user starting a catalog survey
// @Summary Start survey
// @Description Record that the user started a survey attempt
// @Tags surveys
// @Produce json
// @Security BearerAuth
// @Param surveyId path int true "Survey ID"
// @Success 200 {object} object{userSurvey=models.UserSurvey}
// @Failure 404 {object} ErrorResponse
// @Router /surveys/{surveyId}/start [post]
func (s *SurveyService) StartSurvey(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	surveyID, err := strconv.Atoi(chi.URLParam(r, "surveyId"))
	if err != nil {
		SendErrorResponse(w, "Invalid survey id", http.StatusBadRequest, nil)
		return
	}

	var cpxSurveyID string
	err = s.db.QueryRow(`SELECT cpx_survey_id FROM surveys WHERE id = $1 AND is_active = TRUE`, surveyID).Scan(&cpxSurveyID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Survey not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to start survey", http.StatusInternalServerError, nil)
		}
		return
	}

	us := models.UserSurvey{
		UserID:      user.ID,
		SurveyID:    surveyID,
		CpxSurveyID: cpxSurveyID,
		Status:      "started",
	}
	err = s.db.QueryRow(`
        INSERT INTO user_surveys (user_id, survey_id, cpx_survey_id, status)
        VALUES ($1, $2, $3, $4) RETURNING id, started_at
    `, us.UserID, us.SurveyID, us.CpxSurveyID, us.Status).Scan(&us.ID, &us.StartedAt)
	if err != nil {
		log.Printf("[SURVEY] Failed to record survey start for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to start survey", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SURVEY] User %d started survey %d (%s)", user.ID, surveyID, cpxSurveyID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"userSurvey": us})
}

// buildOfferWallURL signs the offer wall link the way CPX expects:
// secure_hash = MD5(userID + "-" + sharedSecret).
func (s *SurveyService) buildOfferWallURL(user *models.User) string {
	userID := strconv.Itoa(user.ID)
	params := url.Values{}
	params.Set("app_id", s.cfg.AppID)
	params.Set("ext_user_id", userID)
	params.Set("secure_hash", s.userSecureHash(userID))
	params.Set("email", user.Email)
	params.Set("main_info", "true")

	if dob := strings.SplitN(user.DateOfBirth, "-", 3); len(dob) == 3 {
		params.Set("birthday_year", dob[0])
		params.Set("birthday_month", dob[1])
		params.Set("birthday_day", dob[2])
	}
	switch user.Gender {
	case "male":
		params.Set("gender", "1")
	case "female":
		params.Set("gender", "2")
	}
	if user.Country != "" {
		params.Set("user_country_code", user.Country)
	}
	if user.ZipCode != "" {
		params.Set("zip_code", user.ZipCode)
	}

	return s.cfg.OfferWallURL + "?" + params.Encode()
}

func (s *SurveyService) fetchAvailableSurveys(ctx context.Context, user *models.User, ip, userAgent string) ([]byte, error) {
	userID := strconv.Itoa(user.ID)
	params := url.Values{}
	params.Set("app_id", s.cfg.AppID)
	params.Set("ext_user_id", userID)
	params.Set("secure_hash", s.userSecureHash(userID))
	params.Set("output_method", "api")
	params.Set("ip_user", ip)
	params.Set("user_agent", userAgent)
	params.Set("limit", "20")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.SurveysAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1_048_576))
}

func (s *SurveyService) userSecureHash(userID string) string {
	sum := md5.Sum([]byte(userID + "-" + s.cfg.SecureHash))
	return hex.EncodeToString(sum[:])
}

func (s *SurveyService) currentUser(r *http.Request) (*models.User, error) {
	userID, _ := r.Context().Value("userID").(string)
	if userID == "" {
		return nil, sql.ErrNoRows
	}

	var user models.User
	err := s.db.QueryRow(`
        SELECT id, username, email, first_name, last_name, date_of_birth, gender, country, zip_code
        FROM users WHERE id = $1 AND is_active = TRUE
    `, userID).Scan(&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
		&user.DateOfBirth, &user.Gender, &user.Country, &user.ZipCode)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

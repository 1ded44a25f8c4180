package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/surveyku/backend/internal/config"
	"github.com/surveyku/backend/internal/models"
)

func surveyTestConfig() *config.CPXConfig {
	return &config.CPXConfig{
		AppID:          "27993",
		SecureHash:     "abc",
		OfferWallURL:   "https://offers.cpx-research.com/index.php",
		SurveysAPIURL:  "https://live-api.cpx-research.com/api/get-surveys.php",
		LocalCurrency:  "IDR",
		ConversionRate: 15000.0,
	}
}

func expectCurrentUser(mock sqlmock.Sqlmock, user models.User) {
	mock.ExpectQuery("SELECT id, username, email, first_name, last_name, date_of_birth").
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "first_name", "last_name",
			"date_of_birth", "gender", "country", "zip_code"}).
			AddRow(user.ID, user.Username, user.Email, user.FirstName, user.LastName,
				user.DateOfBirth, user.Gender, user.Country, user.ZipCode))
}

func surveyTestUser() models.User {
	return models.User{
		ID:          7,
		Username:    "budi88",
		Email:       "test@example.com",
		FirstName:   "Budi",
		LastName:    "Santoso",
		DateOfBirth: "1995-04-17",
		Gender:      "male",
		Country:     "ID",
		ZipCode:     "40111",
	}
}

func surveyRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return req.WithContext(context.WithValue(req.Context(), "userID", "7"))
}

func TestSurveyService_ListSurveys(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSurveyService(db, nil, surveyTestConfig())

	t.Run("active surveys ordered by reward", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "cpx_survey_id", "title", "description", "reward",
			"duration", "category", "is_active", "created_at"}).
			AddRow(1, "cpx-900", "Shopping habits", "Retail survey", 45000.0, 15, "retail", true, time.Now()).
			AddRow(2, "cpx-901", "Streaming usage", "Media survey", 30000.0, 10, "media", true, time.Now())
		mock.ExpectQuery("SELECT id, cpx_survey_id, title, description, reward").
			WillReturnRows(rows)

		rec := httptest.NewRecorder()
		service.ListSurveys(rec, surveyRequest("/surveys"))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Surveys []models.Survey `json:"surveys"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Surveys, 2)
		assert.Equal(t, "cpx-900", body.Surveys[0].CpxSurveyID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSurveyService_GetOfferWallURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSurveyService(db, nil, surveyTestConfig())

	t.Run("signed URL carries user targeting", func(t *testing.T) {
		expectCurrentUser(mock, surveyTestUser())

		rec := httptest.NewRecorder()
		service.GetOfferWallURL(rec, surveyRequest("/surveys/cpx-url"))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

		parsed, err := url.Parse(body["url"])
		assert.NoError(t, err)
		assert.Equal(t, "offers.cpx-research.com", parsed.Host)

		q := parsed.Query()
		assert.Equal(t, "27993", q.Get("app_id"))
		assert.Equal(t, "7", q.Get("ext_user_id"))
		sum := md5.Sum([]byte("7-abc"))
		assert.Equal(t, hex.EncodeToString(sum[:]), q.Get("secure_hash"))
		assert.Equal(t, "1995", q.Get("birthday_year"))
		assert.Equal(t, "04", q.Get("birthday_month"))
		assert.Equal(t, "17", q.Get("birthday_day"))
		assert.Equal(t, "1", q.Get("gender"))
		assert.Equal(t, "ID", q.Get("user_country_code"))
		assert.Equal(t, "40111", q.Get("zip_code"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user responds 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/surveys/cpx-url", nil)
		rec := httptest.NewRecorder()

		service.GetOfferWallURL(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSurveyService_GetOfferWallQR(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSurveyService(db, nil, surveyTestConfig())

	expectCurrentUser(mock, surveyTestUser())

	rec := httptest.NewRecorder()
	service.GetOfferWallQR(rec, surveyRequest("/surveys/qr"))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["qrImage"])
	assert.Contains(t, body["url"], "offers.cpx-research.com")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSurveyService_GetAvailableSurveys(t *testing.T) {
	t.Run("cache hit skips the provider", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewSurveyService(db, redisClient, surveyTestConfig())

		expectCurrentUser(mock, surveyTestUser())
		cached := `{"status":"success","surveys":[]}`
		redisMock.ExpectGet("cpx_surveys:7").SetVal(cached)

		rec := httptest.NewRecorder()
		service.GetAvailableSurveys(rec, surveyRequest("/surveys/cpx-available"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, cached, rec.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("provider fetch populates the cache", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "27993", r.URL.Query().Get("app_id"))
			assert.Equal(t, "7", r.URL.Query().Get("ext_user_id"))
			w.Write([]byte(`{"status":"success","surveys":[{"id":"cpx-1"}]}`))
		}))
		defer provider.Close()

		cfg := surveyTestConfig()
		cfg.SurveysAPIURL = provider.URL

		redisClient, redisMock := redismock.NewClientMock()
		service := NewSurveyService(db, redisClient, cfg)

		expectCurrentUser(mock, surveyTestUser())
		redisMock.ExpectGet("cpx_surveys:7").RedisNil()
		redisMock.ExpectSet("cpx_surveys:7", []byte(`{"status":"success","surveys":[{"id":"cpx-1"}]}`), surveyCacheTTL).SetVal("OK")

		rec := httptest.NewRecorder()
		service.GetAvailableSurveys(rec, surveyRequest("/surveys/cpx-available"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "cpx-1")
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("provider failure responds 502", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer provider.Close()

		cfg := surveyTestConfig()
		cfg.SurveysAPIURL = provider.URL

		service := NewSurveyService(db, nil, cfg)
		expectCurrentUser(mock, surveyTestUser())

		rec := httptest.NewRecorder()
		service.GetAvailableSurveys(rec, surveyRequest("/surveys/cpx-available"))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSurveyService_StartSurvey(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSurveyService(db, nil, surveyTestConfig())

	withURLParam := func(r *http.Request, key, value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add(key, value)
		return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("records the attempt", func(t *testing.T) {
		expectCurrentUser(mock, surveyTestUser())
		mock.ExpectQuery("SELECT cpx_survey_id FROM surveys").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"cpx_survey_id"}).AddRow("cpx-900"))
		mock.ExpectQuery("INSERT INTO user_surveys").
			WithArgs(7, 3, "cpx-900", "started").
			WillReturnRows(sqlmock.NewRows([]string{"id", "started_at"}).AddRow(11, time.Now()))

		req := withURLParam(surveyRequest("/surveys/3/start"), "surveyId", "3")
		rec := httptest.NewRecorder()
		service.StartSurvey(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			UserSurvey models.UserSurvey `json:"userSurvey"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 11, body.UserSurvey.ID)
		assert.Equal(t, "started", body.UserSurvey.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive survey responds 404", func(t *testing.T) {
		expectCurrentUser(mock, surveyTestUser())
		mock.ExpectQuery("SELECT cpx_survey_id FROM surveys").
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"cpx_survey_id"}))

		req := withURLParam(surveyRequest("/surveys/99/start"), "surveyId", "99")
		rec := httptest.NewRecorder()
		service.StartSurvey(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-numeric id responds 400", func(t *testing.T) {
		expectCurrentUser(mock, surveyTestUser())

		req := withURLParam(surveyRequest("/surveys/abc/start"), "surveyId", "abc")
		rec := httptest.NewRecorder()
		service.StartSurvey(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package httputil_test

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/httputil"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

func TestErrorLocalized_HidesCause(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(i18n.WithLocale(req.Context(), i18n.LocaleEnglish))
	rec := httptest.NewRecorder()

	err := errors.ServiceError("errors.delivery_failed", stderrors.New("dial tcp 10.0.0.5:587: i/o timeout"))
	httputil.ErrorLocalized(rec, req, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "SERVICE_ERROR", resp.Error.Code)
	assert.Equal(t, "Failed to deliver the report by email", resp.Error.Message)
}

func TestError_UnknownError(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.Error(rec, stderrors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestPDF(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.PDF(rec, "laudo_abc.pdf", []byte("%PDF-1.3"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="laudo_abc.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "8", rec.Header().Get("Content-Length"))
	assert.Equal(t, "%PDF-1.3", rec.Body.String())
}

func TestValidate(t *testing.T) {
	type input struct {
		Title       string `json:"title" validate:"required"`
		Description string `json:"description" validate:"required,min=10,max=1000"`
	}

	err := httputil.Validate(input{Description: "short"})

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Equal(t, "this field is required", appErr.Details["title"])
	assert.Equal(t, "must be at least 10 characters", appErr.Details["description"])

	assert.NoError(t, httputil.Validate(input{Title: "t", Description: "long enough text"}))
}

func TestValidateVar(t *testing.T) {
	err := httputil.ValidateVar("case_id", "", "required")

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "this field is required", appErr.Details["case_id"])
}

func TestRequestID(t *testing.T) {
	var seen string
	h := httputil.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverer(t *testing.T) {
	log := logger.Nop()

	t.Run("panic before writing returns json 500", func(t *testing.T) {
		h := httputil.Logger(log)(httputil.Recoverer(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp httputil.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})

	t.Run("panic after writing keeps the response", func(t *testing.T) {
		h := httputil.Recoverer(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("partial"))
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "partial", rec.Body.String())
	})
}

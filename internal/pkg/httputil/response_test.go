package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSuccess_WrapsDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()

	Success(rec, http.StatusOK, map[string]string{"id": "m1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m1", data["id"])
}

func TestError_WrapsMessageEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, http.StatusConflict, "already initialized")

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "already initialized", errObj["message"])
}

func TestValidationError_FieldDetails(t *testing.T) {
	type request struct {
		OwnerID string `validate:"required"`
	}
	err := validator.New().Struct(request{})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	details, ok := errObj["details"].([]any)
	require.True(t, ok, "validator errors must render per-field details")
	require.Len(t, details, 1)
	field := details[0].(map[string]any)
	assert.Equal(t, "OwnerID", field["field"])
	assert.Equal(t, "required", field["message"])
}

func TestValidationError_PlainError(t *testing.T) {
	rec := httptest.NewRecorder()

	ValidationError(rec, errors.New("body is not valid JSON"))

	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "body is not valid JSON", errObj["details"])
}

func TestHandleError_MappedAndUnmapped(t *testing.T) {
	sentinel := errors.New("not found")
	mappings := []ErrorMapping{{Error: sentinel, Status: http.StatusNotFound}}

	rec := httptest.NewRecorder()
	HandleError(t.Context(), rec, sentinel, mappings)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	HandleError(t.Context(), rec, errors.New("boom"), mappings)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "internal error", errObj["message"], "unmapped errors must not leak internals")
}

package respond

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]int{"inserted": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"inserted":3}`, rec.Body.String())
}

func TestError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("client error carries the message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, logger, http.StatusBadRequest, errors.New("invalid source: missing source"))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Bad Request", body.Error)
		assert.Equal(t, []string{"invalid source: missing source"}, body.Details)
	})

	t.Run("details replace the message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, logger, http.StatusBadRequest, errors.New("two problems"), "first", "second")

		var body ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, []string{"first", "second"}, body.Details)
	})

	t.Run("server error hides the message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, logger, http.StatusInternalServerError, errors.New("pq: password authentication failed"))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "password")
	})
}

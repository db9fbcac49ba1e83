package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"deposit-gateway/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestError_AppError(t *testing.T) {
	c, w := newTestContext()
	c.Set("request_id", "req-123")

	Error(c, apperror.ErrNotFound("transaction"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperror.CodeNotFound, body.Error)
	assert.Equal(t, "req-123", body.RequestID)
	assert.NotEmpty(t, body.Timestamp)
}

func TestError_WrappedAppError(t *testing.T) {
	c, w := newTestContext()

	wrapped := errors.Join(errors.New("outer"), apperror.Conflict("clash"))
	Error(c, wrapped)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeConflict, decodeError(t, w).Error)
}

func TestError_UnknownErrorIs500(t *testing.T) {
	c, w := newTestContext()

	Error(c, errors.New("driver exploded"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperror.CodeInternal, body.Error)
	// Raw error text never leaks to the caller.
	assert.NotContains(t, body.Message, "driver exploded")
	assert.NotEmpty(t, body.RequestID)
}

func TestOKAndCreated(t *testing.T) {
	c, w := newTestContext()
	OK(c, gin.H{"ok": true})
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newTestContext()
	Created(c, gin.H{"id": "x"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

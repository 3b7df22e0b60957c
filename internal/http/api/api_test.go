package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/middleware"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("device 3: %w", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: bad", model.ErrInvalidInput), http.StatusBadRequest},
		{model.ErrMissingDeviceID, http.StatusBadRequest},
		{model.ErrInvalidPairingCode, http.StatusUnauthorized},
		{model.ErrPairingConflict, http.StatusConflict},
		{model.ErrDeviceNotConnected, http.StatusConflict},
		{model.ErrRelayTimeout, http.StatusGatewayTimeout},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, FromError(tc.err).Code, tc.err.Error())
	}
	assert.Nil(t, FromError(nil))
	assert.Equal(t, "internal server error", FromError(errors.New("pq: secret detail")).Message)
}

func TestMountGroupWithAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	MountGroup(r, GroupConfig{Prefix: "/api/admin", Auth: true, SecretKey: "s"}, ModuleFunc(func(c *Controller) {
		c.GET("/me", func(_ *gin.Context, op *model.Operator) (any, *APIError) {
			return gin.H{"id": op.ID}, nil
		})
		c.DELETE("/thing", func(*gin.Context, *model.Operator) (any, *APIError) {
			return nil, &APIError{Code: http.StatusNotFound, Message: "thing not found"}
		})
	}))

	token, err := middleware.GenerateJWT(3, "s", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":3}`, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/thing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"thing not found"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMountGroupPublic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	MountGroup(r, GroupConfig{Prefix: "/api/device"}, ModuleFunc(func(c *Controller) {
		c.POST("/ping", func(_ *gin.Context, op *model.Operator) (any, *APIError) {
			return gin.H{"anonymous": op == nil}, nil
		})
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/device/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"anonymous":true}`, w.Body.String())
}

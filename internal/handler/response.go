package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"copyfund/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// ServiceError maps service sentinels onto HTTP statuses.
func ServiceError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrFundInactive):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvariant):
		status = http.StatusInternalServerError
	case service.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	Error(c, status, err.Error(), nil)
}

package controller

import (
	"errors"
	"net/http"

	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/web/entity"
	"github.com/mhsanaei/xray-daemon/web/service"
	"github.com/mhsanaei/xray-daemon/xray"

	"github.com/gin-gonic/gin"
)

// jsonObj sends obj in a successful envelope.
func jsonObj(c *gin.Context, statusCode int, obj any) {
	c.JSON(statusCode, entity.Msg{
		Success: true,
		Obj:     obj,
	})
}

// jsonMsgObj sends a failed envelope whose status follows from err.
func jsonMsgObj(c *gin.Context, msg string, obj any, err error) {
	statusCode := errorStatus(err)
	m := entity.Msg{
		Success: false,
		Msg:     msg + " (" + err.Error() + ")",
		Obj:     obj,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Warning(msg+" failed:", err)
		_ = c.Error(err)
	}
	c.JSON(statusCode, m)
}

// jsonMsg sends a failed envelope without an object.
func jsonMsg(c *gin.Context, msg string, err error) {
	jsonMsgObj(c, msg, nil, err)
}

// pureJsonMsg sends an envelope with a custom status code.
func pureJsonMsg(c *gin.Context, statusCode int, success bool, msg string) {
	c.JSON(statusCode, entity.Msg{
		Success: success,
		Msg:     msg,
	})
}

func errorStatus(err error) int {
	var xe *xray.Error
	switch {
	case errors.Is(err, service.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAccountExists), errors.Is(err, service.ErrPassInProgress):
		return http.StatusConflict
	case errors.As(err, &xe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

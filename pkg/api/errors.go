package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"qr-shutter-pi/pkg/session"
)

const (
	unknownErr = "unknown error occurred"
	// KindHeader carries the failure kind of an error response.
	KindHeader = "X-Error-Kind"
)

var statusOf = map[session.Kind]int{
	session.KindAlreadyStarted:    http.StatusConflict,
	session.KindAlreadyStopped:    http.StatusOK,
	session.KindNoCamera:          http.StatusNotFound,
	session.KindCameraError:       http.StatusInternalServerError,
	session.KindTorchError:        http.StatusConflict,
	session.KindPermissionDenied:  http.StatusForbidden,
	session.KindInvalidScanWindow: http.StatusBadRequest,
	session.KindAnalyzerBusy:      http.StatusTooManyRequests,
	session.KindDetectorError:     http.StatusUnprocessableEntity,
}

func sessionErr(c *gin.Context, err error) {
	kind := session.KindOf(err)
	status, ok := statusOf[kind]
	if !ok {
		logger.Errorf("%s %s: %s", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, jsend.SimpleErr(unknownErr))
		return
	}
	c.Header(KindHeader, string(kind))
	c.JSON(status, jsend.SimpleErr(err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
}

func internalErr(c *gin.Context, err error) {
	logger.Errorf("%s %s: %s", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"qr-shutter-pi/pkg/utils/ps"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"
)

func (h *handler) deviceStatus(c *gin.Context) {
	status, err := ps.Collect(h.DataDir)
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(status))
}

func (h *handler) ctlWebdav(c *gin.Context) {
	if h.Recordings == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("recording is disabled"))
		return
	}
	switch c.Query("op") {
	case webDavStart:
		started, err := h.Recordings.Start()
		if err != nil {
			internalErr(c, err)
			return
		}
		if !started {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(h.Recordings.Addr()))
	case webDavShutdown:
		if !h.Recordings.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

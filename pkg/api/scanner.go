package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"qr-shutter-pi/pkg/ov"
	"qr-shutter-pi/pkg/session"
	"qr-shutter-pi/pkg/types"
)

func (h *handler) getScanner(c *gin.Context) {
	s := ov.Scanner{
		State:     string(h.Scanner.State()),
		Config:    ov.ConfigOf(h.Scanner.Config()),
		Window:    h.Scanner.ScanWindow(),
		Analyzing: h.Scanner.Analyzing(),
	}
	if h.Events != nil {
		s.Clients = h.Events.Clients()
	}

	c.JSON(http.StatusOK, jsend.Success(s))
}

func (h *handler) start(c *gin.Context) {
	var req ov.Start
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	cfg, err := req.Config(h.Defaults)
	if err != nil {
		badRequest(c, err)
		return
	}

	info, err := h.Scanner.Start(c.Request.Context(), cfg)
	if err != nil {
		sessionErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(info))
}

func (h *handler) stop(c *gin.Context) {
	err := h.Scanner.Stop()
	if errors.Is(err, session.ErrAlreadyStopped) {
		c.JSON(http.StatusOK, jsend.Success("the scanner is already stopped"))
		return
	}
	if err != nil {
		sessionErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(nil))
}

func (h *handler) setWindow(c *gin.Context) {
	var req ov.Window
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := types.ScanWindowFromSlice(req.Rect)
	if err != nil {
		sessionErr(c, err)
		return
	}
	if err := h.Scanner.SetScanWindow(w); err != nil {
		sessionErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(w))
}

func (h *handler) setTorch(c *gin.Context) {
	var req ov.Torch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Scanner.SetTorch(*req.On); err != nil {
		sessionErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(nil))
}

func (h *handler) setZoom(c *gin.Context) {
	var req ov.Zoom
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Scanner.SetZoom(*req.Value); err != nil {
		sessionErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(nil))
}

func (h *handler) analyze(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxImageSize)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, jsend.SimpleErr(fmt.Sprintf("image larger than %d bytes", tooLarge.Limit)))
			return
		}
		badRequest(c, err)
		return
	}
	if len(data) == 0 {
		badRequest(c, errors.New("empty image"))
		return
	}

	symbols, err := h.Scanner.AnalyzeOnce(c.Request.Context(), data)
	if err != nil {
		sessionErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(symbols))
}

func (h *handler) queryPermission(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(h.Scanner.QueryPermission()))
}

func (h *handler) requestPermission(c *gin.Context) {
	granted, err := h.Scanner.RequestPermission(c.Request.Context())
	if err != nil {
		sessionErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(granted))
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/luma/calypso/client"
	"github.com/luma/calypso/command"
	"github.com/luma/calypso/protocol"
	"github.com/luma/calypso/storage"
)

const (
	defaultStopTimeout = 100 * time.Millisecond
	defaultScanCount   = 20
)

var ErrUnknownAction = errors.New("unknown device action")

type handlers struct {
	dev   Device
	store storage.Store
}

// statusOf maps an exchange error to an HTTP status.
func statusOf(err error) int {
	var eerr *protocol.EncodingError

	switch {
	case errors.As(err, &eerr):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrNotReady):
		return http.StatusConflict
	case protocol.IsModuleError(err):
		return http.StatusBadGateway
	case errors.Is(err, client.ErrTimeout):
		return http.StatusGatewayTimeout
	case client.IsTransportError(err), errors.Is(err, client.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}

	var merr *protocol.ModuleError
	if errors.As(err, &merr) {
		body["code"] = merr.Code
	}
	c.AbortWithStatusJSON(status, body)
}

func fail(c *gin.Context, err error) {
	abort(c, statusOf(err), err)
}

func (h *handlers) status(c *gin.Context) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "state", h.dev.State().String())
	body, _ = sjson.SetBytes(body, "stats", h.dev.Stats())

	if h.store != nil {
		if last, err := h.store.Get(c.Request.Context(), eventsKey); err == nil {
			body, _ = sjson.SetRawBytes(body, "events", last)
		}
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func durationQuery(c *gin.Context, key string, def time.Duration) (time.Duration, error) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return def, nil
	}
	return time.ParseDuration(raw)
}

func (h *handlers) action(c *gin.Context) {
	ctx := c.Request.Context()

	var err error
	switch c.Param("action") {
	case "test":
		err = h.dev.Test(ctx)
	case "start":
		err = h.dev.Start(ctx)
	case "reboot":
		err = h.dev.Reboot(ctx)
	case "factoryreset":
		err = h.dev.FactoryReset(ctx)
	case "powersave":
		err = h.dev.PowerSave(ctx)

	case "stop":
		timeout, perr := durationQuery(c, "timeout", defaultStopTimeout)
		if perr != nil {
			abort(c, http.StatusBadRequest, perr)
			return
		}
		err = h.dev.Stop(ctx, timeout)

	case "sleep":
		d, perr := durationQuery(c, "duration", 0)
		if perr != nil {
			abort(c, http.StatusBadRequest, perr)
			return
		}
		err = h.dev.Sleep(ctx, d)

	default:
		abort(c, http.StatusNotFound, ErrUnknownAction)
		return
	}

	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) getSetting(c *gin.Context) {
	value, err := h.dev.Get(c.Request.Context(), c.Query("id"), c.Query("option"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

type setting struct {
	ID     string `json:"id" binding:"required"`
	Option string `json:"option" binding:"required"`
	Value  string `json:"value"`
}

func (h *handlers) putSetting(c *gin.Context) {
	var req setting
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := h.dev.Set(c.Request.Context(), req.ID, req.Option, req.Value); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func uint8Query(c *gin.Context, key string, def uint8) (uint8, error) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 10, 8)
	return uint8(n), err
}

func (h *handlers) scan(c *gin.Context) {
	index, err := uint8Query(c, "index", 0)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	count, err := uint8Query(c, "count", defaultScanCount)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	entries, err := h.dev.WlanScan(c.Request.Context(), index, count)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *handlers) setMode(c *gin.Context) {
	var req struct {
		Mode command.Mode `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := h.dev.WlanSetMode(c.Request.Context(), req.Mode); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) connect(c *gin.Context) {
	var creds command.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := h.dev.WlanConnect(c.Request.Context(), creds); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) disconnect(c *gin.Context) {
	if err := h.dev.WlanDisconnect(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type socketRequest struct {
	Family   command.Family         `json:"family"`
	Type     command.SocketType     `json:"type"`
	Protocol command.SocketProtocol `json:"protocol"`
}

func (h *handlers) openSocket(c *gin.Context) {
	var req socketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	id, err := h.dev.Socket(c.Request.Context(), req.Family, req.Type, req.Protocol)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *handlers) closeSocket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 8)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := h.dev.CloseSocket(c.Request.Context(), uint8(id)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

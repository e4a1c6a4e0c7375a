package http

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"accesscontrol/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type systemResponse struct {
	Paused       bool   `json:"paused"`
	TotalDevices uint64 `json:"total_devices"`
	Position     uint64 `json:"position"`
}

type deviceResponse struct {
	DeviceID domain.DeviceID `json:"device_id"`
	domain.DeviceInfo
}

type revokedCountResponse struct {
	DeviceID     domain.DeviceID `json:"device_id"`
	RevokedCount uint64          `json:"revoked_count"`
}

type revocationResponse struct {
	DeviceID    domain.DeviceID `json:"device_id"`
	Fingerprint domain.Hash     `json:"fingerprint"`
	Revoked     bool            `json:"revoked"`
}

type eventsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	NextFrom      uint64                `json:"next_from,omitempty"`
}

type positionResponse struct {
	Position uint64 `json:"position"`
}

func (s *Server) handleSystem(c *gin.Context) {
	if s.registry == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	ctx := c.Request.Context()
	paused, err := s.registry.Paused(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	total, err := s.registry.TotalDevices(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	var position uint64
	if s.events != nil {
		if position, err = s.events.CurrentPosition(ctx); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, systemResponse{Paused: paused, TotalDevices: total, Position: position})
}

func (s *Server) handleDevice(c *gin.Context) {
	if s.registry == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	id, ok := deviceIDParam(c)
	if !ok {
		return
	}
	info, err := s.registry.GetDeviceInfo(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deviceResponse{DeviceID: id, DeviceInfo: info})
}

func (s *Server) handleRevokedCount(c *gin.Context) {
	if s.registry == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	id, ok := deviceIDParam(c)
	if !ok {
		return
	}
	count, err := s.registry.GetRevokedCount(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, revokedCountResponse{DeviceID: id, RevokedCount: count})
}

func (s *Server) handleIsRevoked(c *gin.Context) {
	if s.registry == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	id, ok := deviceIDParam(c)
	if !ok {
		return
	}
	fp, err := parseFingerprint(c.Param("fingerprint"))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_FINGERPRINT", err.Error())
		return
	}
	revoked, err := s.registry.IsRevoked(c.Request.Context(), id, fp)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, revocationResponse{DeviceID: id, Fingerprint: fp, Revoked: revoked})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.events == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	limit := defaultEventsLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxEventsLimit {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("limit must be between 1 and %d", maxEventsLimit))
			return
		}
	}
	// One extra row tells us where the next page starts.
	filter.Limit = limit + 1
	events, err := s.events.Query(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := eventsResponse{Notifications: events}
	if len(events) > limit {
		resp.Notifications = events[:limit]
		resp.NextFrom = events[limit].Position
	}
	if resp.Notifications == nil {
		resp.Notifications = []domain.Notification{}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePosition(c *gin.Context) {
	if s.events == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	position, err := s.events.CurrentPosition(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, positionResponse{Position: position})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func deviceIDParam(c *gin.Context) (domain.DeviceID, bool) {
	id, err := parseDeviceID(c.Param("device_id"))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_DEVICE_ID", err.Error())
		return 0, false
	}
	return id, true
}

func parseDeviceID(raw string) (domain.DeviceID, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("device id must be a positive integer: %q", raw)
	}
	return domain.DeviceID(v), nil
}

func parseFingerprint(raw string) (domain.Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"))
	if err != nil || len(b) != len(domain.Hash{}) {
		return domain.Hash{}, errors.New("fingerprint must be 32 hex-encoded bytes")
	}
	return common.BytesToHash(b), nil
}

// parseFilter reads type, device_id, from and to. type is a comma separated
// list of notification types.
func parseFilter(c *gin.Context) (domain.NotificationFilter, error) {
	var filter domain.NotificationFilter
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t := domain.NotificationType(strings.TrimSpace(part))
			if !t.Valid() {
				return filter, fmt.Errorf("unknown notification type %q", part)
			}
			filter.Types = append(filter.Types, t)
		}
	}
	if raw := c.Query("device_id"); raw != "" {
		id, err := parseDeviceID(raw)
		if err != nil {
			return filter, err
		}
		filter.DeviceID = &id
	}
	var err error
	if filter.From, err = parsePosition(c.Query("from")); err != nil {
		return filter, fmt.Errorf("from: %w", err)
	}
	if filter.To, err = parsePosition(c.Query("to")); err != nil {
		return filter, fmt.Errorf("to: %w", err)
	}
	if filter.To > 0 && filter.From > filter.To {
		return filter, errors.New("from must not exceed to")
	}
	return filter, nil
}

func parsePosition(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		status, code = http.StatusNotFound, "DEVICE_NOT_FOUND"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrZeroFingerprint):
		status, code = http.StatusBadRequest, "ZERO_FINGERPRINT"
	case errors.Is(err, domain.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domain.ErrSystemPaused):
		status, code = http.StatusConflict, "SYSTEM_PAUSED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}

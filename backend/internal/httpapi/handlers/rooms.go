package handlers

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"rteSync/backend/internal/collab"
)

type RoomHandler struct {
	svc collab.Service
}

func NewRoomHandler(svc collab.Service) *RoomHandler {
	return &RoomHandler{svc: svc}
}

// GetRoom GET /collab/rooms/:roomID，返回中继副本当前的纯文本
func (h *RoomHandler) GetRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomID")
		ctx := c.Request.Context()

		text, err := h.svc.Text(ctx, roomID)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		sv, err := h.svc.StateVector(ctx, roomID)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"roomId":      roomID,
			"text":        text,
			"length":      utf8.RuneCountInString(text),
			"stateVector": sv,
		})
	}
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, collab.ErrEmptyRoom):
		return http.StatusBadRequest
	case errors.Is(err, collab.ErrLoadFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

package service

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grid_bot/internal/models"
	"grid_bot/internal/supervisor"
)

const maxTradesLimit = 200

func (s *Server) handleStart(c *gin.Context) {
	res, err := s.ops.Start(c.Request.Context(), userID(c))
	if err != nil {
		s.log.Info("start rejected", zap.Int64("user", userID(c)), zap.String("status", res.Status), zap.Error(err))
	}
	code := http.StatusOK
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		code = http.StatusConflict
	case errors.Is(err, supervisor.ErrMissingCredentials):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case err != nil:
		code = http.StatusInternalServerError
	}
	c.JSON(code, res)
}

func (s *Server) handleStop(c *gin.Context) {
	res, err := s.ops.Stop(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, res.Message)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRecover(c *gin.Context) {
	res, err := s.ops.Recover(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, res.Message)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRefresh(c *gin.Context) {
	single := c.Query("single") == "true"
	res, err := s.ops.Refresh(c.Request.Context(), userID(c), single)
	if err != nil {
		s.fail(c, err, res.Message)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) handleClearRefresh(c *gin.Context) {
	res, err := s.ops.ClearRefresh(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, res.Message)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) handleStopRepeat(c *gin.Context) {
	res, err := s.ops.StopRepeat(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, res.Message)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) handleStatus(c *gin.Context) {
	res, err := s.ops.Status(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxTradesLimit)
	}
	trades, err := s.trades.ListTrades(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	if trades == nil {
		trades = []models.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleAdminStatuses(c *gin.Context) {
	res, err := s.ops.AllStatuses(c.Request.Context())
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, res)
}

// fail переводит ошибки супервизора в HTTP-коды.
func (s *Server) fail(c *gin.Context, err error, msg string) {
	if msg == "" {
		msg = err.Error()
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrNotRunning):
		code = http.StatusConflict
	case errors.Is(err, supervisor.ErrMissingCredentials):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"success": false, "message": msg})
}

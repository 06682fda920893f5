package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/logger"
	"github.com/suPer8Hu/chat-sync/internal/migration"
	"go.uber.org/zap"
)

func (h *Handler) MigrationStats(c *gin.Context) {
	st, err := h.Migration.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"stats": st, "running": h.Migration.Running()})
}

// RunMigration answers a dry run inline. A real run is claimed before the
// reply and continues under the server's lifetime context.
func (h *Handler) RunMigration(c *gin.Context) {
	var opts migration.Options
	if v := c.Query("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "dryRun must be a boolean")
			return
		}
		opts.DryRun = b
	}
	if v := c.Query("batchSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "batchSize must be a number")
			return
		}
		opts.BatchSize = n
	}

	if opts.DryRun {
		rep, err := h.Migration.Run(c.Request.Context(), opts)
		if err != nil {
			h.fail(c, err)
			return
		}
		ok(c, gin.H{"report": rep})
		return
	}

	log := logger.FromContext(c.Request.Context(), h.Log)
	err := h.Migration.Start(h.baseCtx(), opts, func(rep migration.Report, err error) {
		if err != nil {
			log.Error("migration run failed", zap.Error(err))
			return
		}
		log.Info("migration run done", zap.Int("processed", rep.Processed), zap.Int("failed", rep.Failed))
	})
	if errors.Is(err, migration.ErrAlreadyRunning) {
		common.Fail(c, http.StatusConflict, 40900, err.Error())
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 0, "message": "accepted", "data": gin.H{"started": true}})
}

package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/coreblock"
)

// handleCollectSignals runs the candidate state machine over one freshly
// generated conversation summary.
func (s *Server) handleCollectSignals(c *fiber.Ctx) error {
	var req coreblock.SignalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if req.SummaryID == "" || req.AssistantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "summary_id and assistant_id are required"})
	}

	report, err := s.consolidator.CollectSignals(c.Context(), req)
	if err != nil {
		s.logger.Error("signal collection failed",
			zap.String("summary_id", req.SummaryID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "signal collection failed"})
	}

	return c.JSON(report)
}

// handleRewrite folds adopted candidates into their blocks, optionally
// scoped to one assistant via the assistant_id query parameter.
func (s *Server) handleRewrite(c *fiber.Ctx) error {
	report, err := s.consolidator.RewriteAdopted(c.Context(), c.Query("assistant_id"))
	if err != nil {
		s.logger.Error("rewrite failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "rewrite failed"})
	}

	return c.JSON(report)
}

// handleListBlocks lists core blocks, optionally scoped to one assistant.
func (s *Server) handleListBlocks(c *fiber.Ctx) error {
	blocks, err := s.consolidator.Blocks(c.Context(), c.Query("assistant_id"))
	if err != nil {
		s.logger.Error("block listing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to list blocks"})
	}
	if blocks == nil {
		blocks = []coreblock.CoreBlock{}
	}

	return c.JSON(fiber.Map{
		"count":  len(blocks),
		"blocks": blocks,
	})
}

// handleBlockHistory lists a block's prior versions, newest first.
func (s *Server) handleBlockHistory(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid block id"})
	}

	entries, err := s.consolidator.History(c.Context(), id)
	if err != nil {
		s.logger.Error("history listing failed", zap.Int64("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to list history"})
	}
	if entries == nil {
		entries = []coreblock.HistoryEntry{}
	}

	return c.JSON(fiber.Map{
		"count":   len(entries),
		"history": entries,
	})
}

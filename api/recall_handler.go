package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/recall"
)

// handleRecall runs dual-path retrieval for one query.
func (s *Server) handleRecall(c *fiber.Ctx) error {
	var req recall.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "query is required"})
	}

	result, err := s.retriever.Recall(c.Context(), req)
	if err != nil {
		s.logger.Error("recall failed", zap.String("query", req.Query), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "recall failed"})
	}

	return c.JSON(result)
}

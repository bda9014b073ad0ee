package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/memory"
)

// handleSaveMemory stores a new memory. Rejections such as over-length
// content or a near-duplicate come back 200 with the rejection in the body;
// the tool-calling loop upstream always needs a serializable result.
func (s *Server) handleSaveMemory(c *fiber.Ctx) error {
	var req memory.SaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "content is required"})
	}

	result, err := s.memories.Save(c.Context(), req)
	if err != nil {
		s.logger.Error("save failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to save memory"})
	}

	return c.JSON(result)
}

// handleUpdateMemory edits a memory's content and/or tags.
func (s *Server) handleUpdateMemory(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid memory id"})
	}

	var req memory.UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	req.ID = id

	result, err := s.memories.Update(c.Context(), req)
	if err != nil {
		s.logger.Error("update failed", zap.Int64("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to update memory"})
	}

	return c.JSON(result)
}

// handleDeleteMemory tombstones a memory. The caller's source comes from
// the query string so the permission rule can be enforced.
func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid memory id"})
	}

	result, err := s.memories.Delete(c.Context(), id, c.Query("source"))
	if err != nil {
		s.logger.Error("delete failed", zap.Int64("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to delete memory"})
	}

	return c.JSON(result)
}

// handleRestoreMemory clears a memory's tombstone.
func (s *Server) handleRestoreMemory(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid memory id"})
	}

	result, err := s.memories.Restore(c.Context(), id)
	if err != nil {
		s.logger.Error("restore failed", zap.Int64("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to restore memory"})
	}

	return c.JSON(result)
}

// handleListTrash lists tombstoned memories awaiting reaping.
func (s *Server) handleListTrash(c *fiber.Ctx) error {
	trash, err := s.memories.Trash(c.Context())
	if err != nil {
		s.logger.Error("trash listing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to list trash"})
	}
	if trash == nil {
		trash = []memory.Memory{}
	}

	return c.JSON(fiber.Map{
		"count":    len(trash),
		"memories": trash,
	})
}

func parseID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

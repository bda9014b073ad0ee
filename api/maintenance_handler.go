package api

import (
	"github.com/gofiber/fiber/v2"
)

// handleSweep triggers one full maintenance pass. Subtask failures are
// reported in the body; the sweep itself always completes.
//
// Callers must single-flight this trigger: two concurrent sweeps can
// double-process the same merge candidates.
func (s *Server) handleSweep(c *fiber.Ctx) error {
	report := s.sweeper.RunAll(c.Context())
	return c.JSON(report)
}

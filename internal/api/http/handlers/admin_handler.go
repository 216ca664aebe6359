package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-delivery/internal/api/dto"
	"github.com/spec-kit/campus-delivery/internal/auth"
	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/observability"
	"github.com/spec-kit/campus-delivery/internal/scheduler"
	"github.com/spec-kit/campus-delivery/internal/service"
	"github.com/spec-kit/campus-delivery/pkg/util"
)

// AdminHandler exposes the operator console endpoints.
type AdminHandler struct {
	gamification *service.GamificationService
	jobs         *scheduler.Jobs
	metrics      *observability.Metrics
	tokens       *auth.TokenManager
	authCfg      config.AuthConfig
	botCfg       config.BotConfig
}

// NewAdminHandler constructs handler.
func NewAdminHandler(gamification *service.GamificationService, jobs *scheduler.Jobs, metrics *observability.Metrics, tokens *auth.TokenManager, authCfg config.AuthConfig, botCfg config.BotConfig) *AdminHandler {
	return &AdminHandler{
		gamification: gamification,
		jobs:         jobs,
		metrics:      metrics,
		tokens:       tokens,
		authCfg:      authCfg,
		botCfg:       botCfg,
	}
}

// Login handles POST /auth/admin/login.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req dto.AdminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if req.AdminID == 0 || req.Password == "" {
		return util.NewValidationError("admin_id and password required", nil)
	}

	if !h.botCfg.IsAdmin(req.AdminID) || h.authCfg.AdminPasswordHash == "" {
		return util.NewUnauthorized("invalid credentials")
	}
	if err := auth.ComparePassword(h.authCfg.AdminPasswordHash, req.Password); err != nil {
		return util.NewUnauthorized("invalid credentials")
	}

	token, exp, err := h.tokens.GenerateToken(req.AdminID)
	if err != nil {
		return util.NewInternalError(err)
	}

	return c.JSON(fiber.Map{"data": dto.AuthResponse{Token: token, ExpiresAt: exp}})
}

// Leaderboard handles GET /admin/leaderboard.
func (h *AdminHandler) Leaderboard(c *fiber.Ctx) error {
	top, err := h.gamification.Leaderboard(c.UserContext())
	if err != nil {
		return err
	}

	entries := make([]dto.LeaderboardEntryResponse, 0, len(top))
	for i, u := range top {
		entries = append(entries, dto.LeaderboardEntryResponse{
			Rank:       i + 1,
			TelegramID: u.TelegramID,
			FirstName:  u.FirstName,
			XP:         u.XP,
			Coins:      u.Coins,
			Level:      u.Level,
		})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"leaderboard": entries}})
}

// Metrics handles GET /admin/metrics.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.metrics.Snapshot()})
}

// Digest handles GET /admin/digest with the trailing-24h activity counts.
func (h *AdminHandler) Digest(c *fiber.Ctx) error {
	stats, err := h.jobs.Digest(c.UserContext())
	if err != nil {
		return util.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"data": stats})
}

// RunJob handles POST /admin/jobs/:name/run for out-of-schedule triggers.
func (h *AdminHandler) RunJob(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.jobs.Run(c.UserContext(), name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			return util.NewNotFound("job", map[string]any{"job": name})
		}
		return util.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"job": name, "status": "completed"}})
}

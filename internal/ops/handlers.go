package ops

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const defaultListLimit = 50

func (s *Server) liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) readiness(c *fiber.Ctx) error {
	if s.checker != nil && !s.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func limitParam(c *fiber.Ctx) int {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}

func (s *Server) listPlayers(c *fiber.Ctx) error {
	players, err := s.store.ListTopPlayers(limitParam(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"players": players, "count": len(players)})
}

func (s *Server) getPlayer(c *fiber.Ctx) error {
	p, err := s.store.GetPlayer(c.Params("key"))
	if err != nil {
		return err
	}
	if p == nil {
		return problem(c, fiber.StatusNotFound, "not_found", "Not Found", "no such player")
	}
	return c.JSON(p)
}

func (s *Server) getPlayerStories(c *fiber.Ctx) error {
	key := c.Params("key")
	p, err := s.store.GetPlayer(key)
	if err != nil {
		return err
	}
	if p == nil {
		return problem(c, fiber.StatusNotFound, "not_found", "Not Found", "no such player")
	}
	stories, err := s.store.GetStoriesByPlayer(key, limitParam(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"player": key, "stories": stories, "count": len(stories)})
}

func (s *Server) listGuilds(c *fiber.Ctx) error {
	guilds, err := s.store.ListActiveGuilds()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"guilds": guilds, "count": len(guilds)})
}

func (s *Server) getGuild(c *fiber.Ctx) error {
	g, err := s.store.GetGuildByName(c.Params("name"))
	if err != nil {
		return err
	}
	if g == nil {
		return problem(c, fiber.StatusNotFound, "not_found", "Not Found", "no such guild")
	}
	return c.JSON(g)
}

func (s *Server) leaderboard(c *fiber.Ctx) error {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	players, err := s.store.ListTopPlayers(limit)
	if err != nil {
		return err
	}

	type entry struct {
		Rank        int    `json:"rank"`
		Key         string `json:"key"`
		DisplayName string `json:"displayName"`
		XP          int    `json:"xp"`
		Level       int    `json:"level"`
		Title       string `json:"title"`
	}
	entries := make([]entry, 0, len(players))
	for i, p := range players {
		entries = append(entries, entry{
			Rank: i + 1, Key: p.Key, DisplayName: p.DisplayName,
			XP: p.XP, Level: p.Level, Title: p.CurrentTitle,
		})
	}
	return c.JSON(fiber.Map{"leaderboard": entries})
}

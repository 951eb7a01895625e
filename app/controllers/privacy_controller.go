package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MindShield/app/models"
)

// Privacy score reported for users without any recorded footprint.
const defaultPrivacyScore = 62

var defaultFootprint = map[string]int{
	"google":    45,
	"facebook":  25,
	"instagram": 20,
	"other":     10,
}

type footprintEntry struct {
	Platform   string `json:"platform" validate:"required,max=100"`
	Percentage int    `json:"percentage" validate:"gte=0,lte=100"`
}

type privacyUpdateRequest struct {
	Footprints []footprintEntry `json:"footprints" validate:"required,dive"`
}

// PrivacyController serves the user's privacy footprint.
type PrivacyController struct {
	*Deps
}

func NewPrivacyController(d *Deps) *PrivacyController {
	return &PrivacyController{Deps: d}
}

// Get returns the share per platform plus the derived privacy score.
func (p *PrivacyController) Get(c *fiber.Ctx) error {
	user, err := p.currentUser(c)
	if err != nil {
		return err
	}
	footprints, err := p.Repos.PrivacyFootprint.GetUserPrivacyFootprint(user.ID)
	if err != nil {
		return internalError(c, "Failed to load privacy footprint", err)
	}
	return c.JSON(footprintResponse(footprints))
}

// Update replaces the user's footprint with the submitted set.
func (p *PrivacyController) Update(c *fiber.Ctx) error {
	user, err := p.currentUser(c)
	if err != nil {
		return err
	}
	var req privacyUpdateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	seen := make(map[string]bool, len(req.Footprints))
	rows := make([]models.PrivacyFootprint, 0, len(req.Footprints))
	for _, f := range req.Footprints {
		platform := normalizePlatform(f.Platform)
		if platform == "" {
			return badRequest("platform is required")
		}
		if seen[platform] {
			return badRequest("duplicate platform " + platform)
		}
		seen[platform] = true
		rows = append(rows, models.PrivacyFootprint{Platform: platform, Percentage: f.Percentage})
	}

	stored, err := p.Repos.PrivacyFootprint.ReplacePrivacyFootprint(user.ID, rows)
	if err != nil {
		return internalError(c, "Failed to store privacy footprint", err)
	}
	return c.JSON(footprintResponse(stored))
}

func footprintResponse(footprints []models.PrivacyFootprint) fiber.Map {
	out := fiber.Map{}
	if len(footprints) == 0 {
		for platform, share := range defaultFootprint {
			out[platform] = share
		}
		out["score"] = defaultPrivacyScore
		return out
	}
	for _, f := range footprints {
		out[normalizePlatform(f.Platform)] = f.Percentage
	}
	out["score"] = privacyScore(footprints)
	return out
}

// privacyScore is 100 minus the summed platform shares, clamped to [0, 100].
func privacyScore(footprints []models.PrivacyFootprint) int {
	if len(footprints) == 0 {
		return defaultPrivacyScore
	}
	total := 0
	for _, f := range footprints {
		total += f.Percentage
	}
	score := 100 - total
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

package controllers

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/MindShield/app/models"
)

// DashboardController aggregates the data shown on the user dashboard.
type DashboardController struct {
	*Deps
}

func NewDashboardController(d *Deps) *DashboardController {
	return &DashboardController{Deps: d}
}

func (d *DashboardController) Get(c *fiber.Ctx) error {
	user, err := d.currentUser(c)
	if err != nil {
		return err
	}

	var (
		permissions []models.Permission
		earnings    []models.Earning
		footprints  []models.PrivacyFootprint
	)
	var g errgroup.Group
	g.Go(func() (err error) {
		permissions, err = d.Repos.Permission.GetUserPermissions(user.ID)
		return err
	})
	g.Go(func() (err error) {
		earnings, err = d.Repos.Earning.GetUserEarnings(user.ID)
		return err
	})
	g.Go(func() (err error) {
		footprints, err = d.Repos.PrivacyFootprint.GetUserPrivacyFootprint(user.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return internalError(c, "Failed to load dashboard", err)
	}

	weekAgo := d.now().AddDate(0, 0, -7)
	var active, pending, recent int
	for _, p := range permissions {
		switch p.Status {
		case models.PermissionStatusActive:
			active++
		case models.PermissionStatusPending:
			pending++
		}
		if p.CreatedAt.After(weekAgo) {
			recent++
		}
	}
	if footprints == nil {
		footprints = []models.PrivacyFootprint{}
	}

	return c.JSON(fiber.Map{
		"privacyScore":       privacyScore(footprints),
		"monthlyEarnings":    rupees(sumEarnings(earnings).Total),
		"activePermissions":  active,
		"pendingPermissions": pending,
		"dataRequests":       recent,
		"permissions":        toPermissionViews(permissions),
		"footprints":         footprints,
	})
}

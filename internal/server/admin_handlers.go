package server

import (
	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// PromotionBody is the body of POST /admin/promotions.
type PromotionBody struct {
	MemberID    string   `json:"member_id" example:"110000000000000042"`
	MemberRoles []string `json:"member_roles"`
	RoleID      string   `json:"role_id" example:"110000000000000050"`
}

// RoleChangeBody is the body of POST /admin/roles.
type RoleChangeBody struct {
	Action      string   `json:"action" example:"grant"`
	MemberID    string   `json:"member_id" example:"110000000000000042"`
	MemberRoles []string `json:"member_roles"`
	RoleID      string   `json:"role_id" example:"110000000000000050"`
}

// PurgeRequest handles DELETE /api/admin/requests/:id
// @Summary Purge request
// @Description Delete a request and its side-effect records. Admin only.
// @Tags admin
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} object{message=string,id=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/requests/{id} [delete]
func (s *Server) PurgeRequest(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	req, err := s.engine.Purge(c.UserContext(), who, c.Params("id"))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Request deleted",
		"id":      req.ID,
	})
}

// ReloadPolicies handles POST /api/admin/policies/reload
// @Summary Reload policies
// @Description Re-read the policy file. The previous table stays in force if the new one is invalid. Admin only.
// @Tags admin
// @Produce json
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/policies/reload [post]
func (s *Server) ReloadPolicies(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	if err := s.engine.ReloadPolicies(c.UserContext(), who); err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Policies reloaded"})
}

// GetFeatureFlags returns configured feature flags and the kinds enabled for
// the caller. Admin only.
// @Summary Get feature flags
// @Description Raw feature flags and the request kinds enabled for the caller. Admin only.
// @Tags admin
// @Produce json
// @Success 200 {object} object{raw=map[string]string,kinds=map[string]bool}
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	if err := s.engine.RequireAdmin(who, "Only administrators can view feature flags"); err != nil {
		return respondAppError(c, err)
	}

	raw := map[string]string{}
	if s.featureFlags != nil {
		raw = s.featureFlags.Raw()
	}
	middleware.Ctx(c.UserContext()).Debug().Str("actor_id", who.ID).Msg("feature flags viewed")
	return c.JSON(fiber.Map{
		"raw":   raw,
		"kinds": s.engine.KindToggles(who.ID),
	})
}

// PromoteMember handles POST /api/admin/promotions
// @Summary Promote staff member
// @Description Grant a staff member a new rank and announce it. Needs the promotion policy; self-promotion is refused.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body PromotionBody true "Promotion"
// @Success 201 {object} models.RoleChange
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/promotions [post]
func (s *Server) PromoteMember(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}

	var body PromotionBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	change, err := s.engine.Promote(c.UserContext(), who, service.Promotion{
		MemberID:    body.MemberID,
		MemberRoles: body.MemberRoles,
		RoleID:      body.RoleID,
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(change)
}

// ChangeMemberRole handles POST /api/admin/roles
// @Summary Add or remove a role
// @Description Grant or revoke one role on a member. Needs the role_manage policy; admin ranks need an admin.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body RoleChangeBody true "Role change"
// @Success 201 {object} models.RoleChange
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/roles [post]
func (s *Server) ChangeMemberRole(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}

	var body RoleChangeBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	change, err := s.engine.ChangeRole(c.UserContext(), who, service.RoleAssignment{
		Action:      models.RoleAction(body.Action),
		MemberID:    body.MemberID,
		MemberRoles: body.MemberRoles,
		RoleID:      body.RoleID,
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(change)
}

// GetMemberRoleChanges handles GET /api/members/:memberId/role-changes
// @Summary Get member role changes
// @Description List promotions and direct role changes applied to a member, newest first.
// @Tags members
// @Produce json
// @Param memberId path string true "Member ID"
// @Param limit query int false "Max results (default 25, max 100)"
// @Param offset query int false "Offset"
// @Success 200 {array} models.RoleChange
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /members/{memberId}/role-changes [get]
func (s *Server) GetMemberRoleChanges(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	page := parsePagination(c, defaultPageLimit)

	rows, err := s.engine.ListRoleChanges(c.UserContext(), who, c.Params("memberId"), page.Limit, page.Offset)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(rows)
}

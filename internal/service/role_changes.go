package service

import (
	"context"
	"errors"
	"strings"

	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/notifications"
	"staffdesk/internal/observability"
	"staffdesk/internal/permission"
	"staffdesk/internal/validation"
)

// Promotion grants a staff member a new rank. MemberRoles are the member's
// current roles as seen by the gateway.
type Promotion struct {
	MemberID    string
	MemberRoles []string
	RoleID      string
}

// RoleAssignment adds or removes a single role outside any request.
type RoleAssignment struct {
	Action      models.RoleAction
	MemberID    string
	MemberRoles []string
	RoleID      string
}

// Promote grants a staff member a new role and announces it. The grant is
// the operation: a failed grant is recorded and returned as a
// DependencyError. A failed announcement is only recorded.
func (e *Engine) Promote(ctx context.Context, actor Actor, p Promotion) (change *models.RoleChange, err error) {
	defer func() {
		observability.RoleChangesTotal.WithLabelValues(string(models.RoleActionPromote), resultLabel(err)).Inc()
	}()

	if err := e.authorize(actor.Roles, permission.PolicyPromotion, "You are not authorized to promote staff members"); err != nil {
		return nil, err
	}
	memberID, roleID, err := checkRoleTarget(p.MemberID, p.RoleID)
	if err != nil {
		return nil, err
	}
	if memberID == actor.ID {
		return nil, models.NewInvalidPayloadError("You cannot promote yourself", nil)
	}
	if len(p.MemberRoles) == 0 {
		return nil, models.NewValidationError("member roles are required to check promotion eligibility")
	}
	staff, err := e.holds(p.MemberRoles, permission.PolicyStaff)
	if err != nil {
		return nil, err
	}
	if !staff {
		return nil, models.NewInvalidPayloadError("This member is not eligible for promotion", nil)
	}
	if hasRole(p.MemberRoles, roleID) {
		return nil, models.NewInvalidPayloadError("Member already has this role", nil)
	}
	if err := e.guardProtectedRole(actor, roleID); err != nil {
		return nil, err
	}

	change = &models.RoleChange{
		Action:    models.RoleActionPromote,
		ActorID:   actor.ID,
		MemberID:  memberID,
		RoleID:    roleID,
		CreatedAt: e.clock(),
	}
	if err := e.applyRoleChange(ctx, change); err != nil {
		return change, err
	}

	e.setAnnouncement(ctx, change, e.dispatcher.Announce(ctx, notifications.NewAnnouncementEvent(change)))
	e.recordRoleChange(ctx, change)

	middleware.Ctx(ctx).Info().
		Str("change_id", change.ID).
		Str("member_id", memberID).
		Str("role_id", roleID).
		Str("actor_id", actor.ID).
		Msg("member promoted")
	return change, nil
}

// ChangeRole adds or removes one role from a member. When MemberRoles are
// given, granting a held role or revoking a missing one is rejected.
func (e *Engine) ChangeRole(ctx context.Context, actor Actor, a RoleAssignment) (change *models.RoleChange, err error) {
	defer func() {
		observability.RoleChangesTotal.WithLabelValues(string(a.Action), resultLabel(err)).Inc()
	}()

	if a.Action != models.RoleActionGrant && a.Action != models.RoleActionRevoke {
		return nil, models.NewValidationError("Action must be grant or revoke")
	}
	if err := e.authorize(actor.Roles, permission.PolicyRoleManage, "You do not have permission to manage roles"); err != nil {
		return nil, err
	}
	memberID, roleID, err := checkRoleTarget(a.MemberID, a.RoleID)
	if err != nil {
		return nil, err
	}
	if len(a.MemberRoles) > 0 {
		held := hasRole(a.MemberRoles, roleID)
		if a.Action == models.RoleActionGrant && held {
			return nil, models.NewInvalidPayloadError("Member already has this role", nil)
		}
		if a.Action == models.RoleActionRevoke && !held {
			return nil, models.NewInvalidPayloadError("Member does not have this role", nil)
		}
	}
	if err := e.guardProtectedRole(actor, roleID); err != nil {
		return nil, err
	}

	change = &models.RoleChange{
		Action:    a.Action,
		ActorID:   actor.ID,
		MemberID:  memberID,
		RoleID:    roleID,
		CreatedAt: e.clock(),
	}
	if err := e.applyRoleChange(ctx, change); err != nil {
		return change, err
	}
	e.recordRoleChange(ctx, change)

	middleware.Ctx(ctx).Info().
		Str("change_id", change.ID).
		Str("action", string(a.Action)).
		Str("member_id", memberID).
		Str("role_id", roleID).
		Str("actor_id", actor.ID).
		Msg("member role changed")
	return change, nil
}

// ListRoleChanges returns the direct role changes applied to a member.
// Members may list their own; anyone else needs history_view.
func (e *Engine) ListRoleChanges(ctx context.Context, actor Actor, memberID string, limit, offset int) ([]models.RoleChange, error) {
	if err := e.authorizeHistory(actor, memberID); err != nil {
		return nil, err
	}
	if e.roleChanges == nil {
		return []models.RoleChange{}, nil
	}
	return e.roleChanges.ListByMember(ctx, memberID, limit, offset)
}

// applyRoleChange runs the role effect. A failure is recorded on the change
// and returned.
func (e *Engine) applyRoleChange(ctx context.Context, change *models.RoleChange) error {
	change.Status = models.SideEffectOK
	err := e.changeRole(ctx, change.MemberID, roleChange{effect: change.Effect(), roleID: change.RoleID})
	if err == nil {
		return nil
	}

	change.Status = models.SideEffectFailed
	change.Error = err.Error()
	observability.SideEffectFailures.WithLabelValues(change.Effect()).Inc()
	middleware.Ctx(ctx).Warn().
		Err(err).
		Str("action", string(change.Action)).
		Str("member_id", change.MemberID).
		Str("role_id", change.RoleID).
		Msg("role change failed")
	e.recordRoleChange(ctx, change)

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewDependencyError("role effector", err)
}

func (e *Engine) setAnnouncement(ctx context.Context, change *models.RoleChange, err error) {
	change.Announcement = models.SideEffectOK
	if err == nil {
		return
	}
	change.Announcement = models.SideEffectFailed
	change.AnnouncementError = err.Error()
	observability.SideEffectFailures.WithLabelValues(models.EffectAnnouncement).Inc()
	middleware.Ctx(ctx).Warn().
		Err(err).
		Str("member_id", change.MemberID).
		Msg("announcement failed")
}

func (e *Engine) recordRoleChange(ctx context.Context, change *models.RoleChange) {
	if e.roleChanges == nil {
		return
	}
	if err := e.roleChanges.Record(ctx, change); err != nil {
		middleware.Ctx(ctx).Error().
			Err(err).
			Str("member_id", change.MemberID).
			Str("action", string(change.Action)).
			Msg("failed to record role change")
	}
}

// guardProtectedRole keeps the roles of the admin policy out of reach of
// non-admins, so a role manager cannot hand out or strip a rank above their own.
func (e *Engine) guardProtectedRole(actor Actor, roleID string) error {
	adminRoles, err := e.policies.RoleSet(permission.PolicyAdmin)
	if err != nil {
		return err
	}
	if !hasRole(adminRoles, roleID) {
		return nil
	}
	return e.RequireAdmin(actor, "You cannot change this role due to hierarchy")
}

func checkRoleTarget(memberID, roleID string) (string, string, error) {
	memberID = strings.TrimSpace(memberID)
	roleID = strings.TrimSpace(roleID)
	if err := validation.ValidateMemberID(memberID); err != nil {
		return "", "", models.NewValidationError("Invalid member: " + err.Error())
	}
	if err := validation.ValidateRoleID(roleID); err != nil {
		return "", "", models.NewValidationError("Invalid role: " + err.Error())
	}
	return memberID, roleID, nil
}

func hasRole(roles []string, roleID string) bool {
	for _, r := range roles {
		if strings.TrimSpace(r) == roleID {
			return true
		}
	}
	return false
}

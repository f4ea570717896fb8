package service

import (
	"strings"
	"time"

	"staffdesk/internal/duration"
	"staffdesk/internal/models"
	"staffdesk/internal/permission"
	"staffdesk/internal/validation"
)

const (
	maxReason   = validation.MaxReasonLength
	maxFeedback = validation.MaxFeedbackLength

	defaultEvidence = "No evidence provided"
)

// Infraction types whose acceptance strips staff roles.
const (
	infractionSuspension  = "Suspension"
	infractionTermination = "Termination"
)

type checkedPayload struct {
	payload   models.Payload
	subjectID string
	interval  *duration.Interval
}

// checkPayload applies the per-kind submission rules and returns the payload
// as it will be stored.
func (e *Engine) checkPayload(kind models.Kind, sub Submission, now time.Time) (checkedPayload, error) {
	if err := validation.ValidateMemberID(sub.SubmitterID); err != nil {
		return checkedPayload{}, models.NewValidationError("Invalid submitter: " + err.Error())
	}

	p := sub.Payload
	p.Reason = strings.TrimSpace(p.Reason)

	switch kind {
	case models.KindLOA:
		return checkLOA(p, sub.SubmitterID, now)
	case models.KindAppeal:
		return checkAppeal(p, sub.SubmitterID)
	case models.KindInfraction:
		return checkInfraction(p, sub.SubmitterID)
	case models.KindReview:
		return e.checkReview(p, sub)
	}
	return checkedPayload{}, models.NewValidationError("Unknown request kind")
}

func checkLOA(p models.Payload, submitterID string, now time.Time) (checkedPayload, error) {
	if err := checkText("reason", p.Reason, maxReason, true); err != nil {
		return checkedPayload{}, err
	}
	interval, err := duration.Parse(p.Duration, now)
	if err != nil {
		return checkedPayload{}, models.NewInvalidPayloadError("Invalid leave duration", err)
	}
	if interval.Amount == 0 {
		return checkedPayload{}, models.NewInvalidPayloadError("Leave duration must be at least one unit", nil)
	}
	p.Duration = strings.ToUpper(p.Duration)
	return checkedPayload{payload: onlyLOA(p), subjectID: submitterID, interval: &interval}, nil
}

func checkAppeal(p models.Payload, submitterID string) (checkedPayload, error) {
	if err := checkText("reason", p.Reason, maxReason, true); err != nil {
		return checkedPayload{}, err
	}
	p.Evidence = strings.TrimSpace(p.Evidence)
	if err := checkText("evidence", p.Evidence, maxReason, false); err != nil {
		return checkedPayload{}, err
	}
	if p.Evidence == "" {
		p.Evidence = defaultEvidence
	}
	return checkedPayload{
		payload:   models.Payload{Reason: p.Reason, Evidence: p.Evidence},
		subjectID: submitterID,
	}, nil
}

func checkInfraction(p models.Payload, submitterID string) (checkedPayload, error) {
	subject, err := checkSubject(p.SubjectID, submitterID)
	if err != nil {
		return checkedPayload{}, err
	}
	infType, err := validation.NormalizeInfractionType(p.InfractionType)
	if err != nil {
		return checkedPayload{}, models.NewInvalidPayloadError(err.Error(), nil)
	}
	link := strings.TrimSpace(p.DocLink)
	if err := validation.ValidateDocLink(link); err != nil {
		return checkedPayload{}, models.NewInvalidPayloadError(err.Error(), nil)
	}
	if err := checkText("reason", p.Reason, maxReason, false); err != nil {
		return checkedPayload{}, err
	}
	return checkedPayload{
		payload: models.Payload{
			Reason:         p.Reason,
			SubjectID:      subject,
			InfractionType: infType,
			DocLink:        link,
			Appealable:     p.Appealable,
		},
		subjectID: subject,
	}, nil
}

func (e *Engine) checkReview(p models.Payload, sub Submission) (checkedPayload, error) {
	subject, err := checkSubject(p.SubjectID, sub.SubmitterID)
	if err != nil {
		return checkedPayload{}, err
	}

	isStaff, err := e.holds(sub.SubmitterRoles, permission.PolicyStaff)
	if err != nil {
		return checkedPayload{}, err
	}
	if isStaff {
		return checkedPayload{}, models.NewForbiddenError("Staff members cannot submit peer reviews")
	}

	if len(p.SubjectRoles) > 0 {
		subjectIsStaff, err := e.holds(p.SubjectRoles, permission.PolicyStaff)
		if err != nil {
			return checkedPayload{}, err
		}
		if !subjectIsStaff {
			return checkedPayload{}, models.NewInvalidPayloadError("Reviews can only be written about staff members", nil)
		}
	}

	if err := validation.ValidateRating(p.Rating); err != nil {
		return checkedPayload{}, models.NewInvalidPayloadError(err.Error(), nil)
	}
	p.Feedback = strings.TrimSpace(p.Feedback)
	if err := checkText("feedback", p.Feedback, maxFeedback, true); err != nil {
		return checkedPayload{}, err
	}
	return checkedPayload{
		payload: models.Payload{
			SubjectID:    subject,
			SubjectRoles: p.SubjectRoles,
			Rating:       p.Rating,
			Feedback:     p.Feedback,
		},
		subjectID: subject,
	}, nil
}

func checkSubject(subjectID, submitterID string) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if err := validation.ValidateMemberID(subjectID); err != nil {
		return "", models.NewInvalidPayloadError("Invalid subject: "+err.Error(), nil)
	}
	if subjectID == submitterID {
		return "", models.NewInvalidPayloadError("You cannot target yourself", nil)
	}
	return subjectID, nil
}

func checkText(field, value string, maxLen int, required bool) error {
	if err := validation.ValidateText(field, value, maxLen, required); err != nil {
		return models.NewInvalidPayloadError(err.Error(), nil)
	}
	return nil
}

func onlyLOA(p models.Payload) models.Payload {
	return models.Payload{Reason: p.Reason, Duration: p.Duration}
}

// reasonRequiredOnDeny lists kinds whose denial must explain itself.
func reasonRequiredOnDeny(kind models.Kind) bool {
	return kind == models.KindLOA || kind == models.KindAppeal
}

// roleChange is one planned grant or revoke. A planning error, such as an
// unconfigured role, is carried so the outbox records it as a failed effect.
type roleChange struct {
	effect string
	roleID string
	err    error
}

// plannedRoleChanges lists the role effects of an accepted request.
func (e *Engine) plannedRoleChanges(req *models.Request, outcome models.Outcome) []roleChange {
	if outcome != models.OutcomeAccept {
		return nil
	}

	switch req.Kind {
	case models.KindLOA:
		id, err := e.policies.Role(permission.RoleLeave)
		return []roleChange{{effect: models.EffectRoleGrant, roleID: id, err: err}}

	case models.KindInfraction:
		t := req.Payload.InfractionType
		if t != infractionTermination && t != infractionSuspension {
			return nil
		}
		var out []roleChange
		ids, err := e.policies.RoleSet(permission.PolicyInfractionRevoke)
		if err != nil {
			out = append(out, roleChange{effect: models.EffectRoleRevoke, err: err})
		}
		for _, id := range ids {
			out = append(out, roleChange{effect: models.EffectRoleRevoke, roleID: id})
		}
		if t == infractionSuspension {
			id, err := e.policies.Role(permission.RoleSuspension)
			out = append(out, roleChange{effect: models.EffectRoleGrant, roleID: id, err: err})
		}
		return out
	}
	return nil
}

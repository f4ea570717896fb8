package server

import (
	"staffdesk/internal/models"
	"staffdesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SubmitRequestBody is the body of POST /requests.
type SubmitRequestBody struct {
	Kind    string         `json:"kind" example:"loa"`
	Payload models.Payload `json:"payload"`
}

// DecisionBody is the optional body of the accept and deny endpoints.
type DecisionBody struct {
	Reason string `json:"reason" example:"Overlaps with the event week"`
}

// SubmitRequest handles POST /api/requests
// @Summary Submit a request
// @Description Submit a new leave, appeal, infraction or review request. Reviewers are notified once it is stored.
// @Tags requests
// @Accept json
// @Produce json
// @Param request body SubmitRequestBody true "Request kind and payload"
// @Success 201 {object} models.Request
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /requests [post]
func (s *Server) SubmitRequest(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}

	var body SubmitRequestBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req, err := s.engine.Submit(c.UserContext(), service.Submission{
		SubmitterID:    who.ID,
		SubmitterRoles: who.Roles,
		Kind:           models.Kind(body.Kind),
		Payload:        body.Payload,
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// GetMyRequests handles GET /api/requests/me
// @Summary Get my requests
// @Description List requests submitted by the current member, newest first.
// @Tags requests
// @Produce json
// @Param kind query string false "Filter by kind" Enums(loa, appeal, infraction, review)
// @Param limit query int false "Max results (default 25, max 100)"
// @Success 200 {array} models.Request
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /requests/me [get]
func (s *Server) GetMyRequests(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	kind, err := parseKindQuery(c)
	if err != nil {
		return nil
	}
	page := parsePagination(c, defaultPageLimit)

	rows, err := s.engine.ListBySubmitter(c.UserContext(), who, who.ID, kind, page.Limit)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(rows)
}

// GetRequest handles GET /api/requests/:id
// @Summary Get request
// @Description Fetch one request. Visible to its submitter, reviewers of its kind and history viewers.
// @Tags requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.Request
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /requests/{id} [get]
func (s *Server) GetRequest(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	req, err := s.engine.Get(c.UserContext(), who, c.Params("id"))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(req)
}

// GetRequestEffects handles GET /api/requests/:id/effects
// @Summary Get request side effects
// @Description List the recorded downstream effects of a request in attempt order.
// @Tags requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {array} models.SideEffect
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /requests/{id}/effects [get]
func (s *Server) GetRequestEffects(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	effects, err := s.engine.ListSideEffects(c.UserContext(), who, c.Params("id"))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(effects)
}

// AcceptRequest handles POST /api/requests/:id/accept
// @Summary Accept request
// @Description Accept a pending request. Exactly one decision wins; later ones get 409.
// @Tags requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.Request
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /requests/{id}/accept [post]
func (s *Server) AcceptRequest(c *fiber.Ctx) error {
	return s.decide(c, models.OutcomeAccept)
}

// DenyRequest handles POST /api/requests/:id/deny
// @Summary Deny request
// @Description Deny a pending request. Leave and appeal denials must carry a reason.
// @Tags requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body DecisionBody false "Denial reason"
// @Success 200 {object} models.Request
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /requests/{id}/deny [post]
func (s *Server) DenyRequest(c *fiber.Ctx) error {
	return s.decide(c, models.OutcomeDeny)
}

func (s *Server) decide(c *fiber.Ctx, outcome models.Outcome) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}

	var body DecisionBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid request body"))
		}
	}

	req, err := s.engine.Decide(c.UserContext(), service.Decision{
		RequestID:     c.Params("id"),
		ReviewerID:    who.ID,
		ReviewerRoles: who.Roles,
		Outcome:       outcome,
		Reason:        body.Reason,
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(req)
}

// AttachArtifact handles PUT /api/requests/:id/artifact
// @Summary Attach review artifact
// @Description Record where the reviewer-facing message for a request was posted.
// @Tags requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body models.ArtifactRef true "Artifact location"
// @Success 200 {object} models.Request
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /requests/{id}/artifact [put]
func (s *Server) AttachArtifact(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}

	var body models.ArtifactRef
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req, err := s.engine.AttachArtifactAs(c.UserContext(), who, c.Params("id"), body.ChannelID, body.MessageID)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(req)
}

// GetMemberRequests handles GET /api/members/:memberId/requests
// @Summary Get member requests
// @Description List requests submitted by a member. Other members' history needs the history_view policy.
// @Tags members
// @Produce json
// @Param memberId path string true "Member ID"
// @Param kind query string false "Filter by kind" Enums(loa, appeal, infraction, review)
// @Param limit query int false "Max results (default 25, max 100)"
// @Success 200 {array} models.Request
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /members/{memberId}/requests [get]
func (s *Server) GetMemberRequests(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	kind, err := parseKindQuery(c)
	if err != nil {
		return nil
	}
	page := parsePagination(c, defaultPageLimit)

	rows, err := s.engine.ListBySubmitter(c.UserContext(), who, c.Params("memberId"), kind, page.Limit)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(rows)
}

// GetMemberSubjectRequests handles GET /api/members/:memberId/subject-requests
// @Summary Get requests about a member
// @Description List infractions, reviews and other requests whose subject is the member.
// @Tags members
// @Produce json
// @Param memberId path string true "Member ID"
// @Param kind query string false "Filter by kind" Enums(loa, appeal, infraction, review)
// @Param limit query int false "Max results (default 25, max 100)"
// @Success 200 {array} models.Request
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /members/{memberId}/subject-requests [get]
func (s *Server) GetMemberSubjectRequests(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	kind, err := parseKindQuery(c)
	if err != nil {
		return nil
	}
	page := parsePagination(c, defaultPageLimit)

	rows, err := s.engine.ListBySubject(c.UserContext(), who, c.Params("memberId"), kind, page.Limit)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(rows)
}

// GetMemberLeave handles GET /api/members/:memberId/leave
// @Summary Get member leave status
// @Description Current active leave, if any, and the number of leaves that have ended.
// @Tags members
// @Produce json
// @Param memberId path string true "Member ID"
// @Success 200 {object} service.LeaveSummary
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /members/{memberId}/leave [get]
func (s *Server) GetMemberLeave(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	summary, err := s.engine.LeaveStatus(c.UserContext(), who, c.Params("memberId"))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(summary)
}

// GetQueue handles GET /api/queues/:kind
// @Summary Get review queue
// @Description List pending requests of a kind, oldest first. Reviewers of the kind only.
// @Tags requests
// @Produce json
// @Param kind path string true "Request kind" Enums(loa, appeal, infraction, review)
// @Param limit query int false "Max results (default 25, max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} object{kind=string,requests=[]models.Request,limit=int,offset=int}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /queues/{kind} [get]
func (s *Server) GetQueue(c *fiber.Ctx) error {
	who, err := actor(c)
	if err != nil {
		return nil
	}
	kind, ok := models.ParseKind(c.Params("kind"))
	if !ok {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unknown request kind"))
	}
	page := parsePagination(c, defaultPageLimit)

	rows, err := s.engine.ListPending(c.UserContext(), who, kind, page.Limit, page.Offset)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"kind":     kind,
		"requests": rows,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

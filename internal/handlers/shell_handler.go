package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classdesk/classdesk-portal/internal/flow"
	"github.com/classdesk/classdesk-portal/internal/middleware"
	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/internal/shell"
	"github.com/classdesk/classdesk-portal/pkg/metrics"
)

// ShellHandler answers the application shell's routing question: for the
// path the client wants to show, render the chooser, the login flow, the
// dashboard, or redirect.
type ShellHandler struct {
	manager *flow.Manager
}

func NewShellHandler(manager *flow.Manager) *ShellHandler {
	return &ShellHandler{manager: manager}
}

func (h *ShellHandler) Route(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		respondError(c, http.StatusBadRequest, "Missing path parameter", nil)
		return
	}

	cl := h.manager.Client(middleware.GetClientID(c))

	in := shell.Input{Path: path}
	if portal, ok := cl.Creds.Portal(); ok {
		in.Portal = portal
	}
	if sess, ok := cl.Creds.ReadSession(); ok {
		in.Session = sess
	}
	if id, ok := cl.Schools.SchoolID(); ok {
		in.StoredSchoolID = id
	}

	d := shell.Decide(in)
	metrics.GuardDecisions.WithLabelValues(string(d.Outcome)).Inc()

	// A direct sub-flow URL implies a portal; store it so a reload of the
	// same URL resolves identically.
	if d.PersistPortal {
		cl.Creds.SetPortal(d.Portal, true)
	}

	resp := models.ShellRouteResponse{
		Portal:   d.Portal,
		Role:     d.Role,
		SchoolID: d.SchoolID,
	}
	switch d.Outcome {
	case shell.OutcomeRedirect:
		resp.Action = "redirect"
		resp.RedirectTo = d.RedirectTo
	case shell.OutcomeChooser:
		resp.Action = "render"
		resp.Screen = string(flow.ScreenPortalSelection)
	case shell.OutcomeLoginFlow:
		resp.Action = "render"
		switch d.SubFlow {
		case "school-login":
			resp.Screen = string(flow.ScreenSchoolSelector)
		case "login-success":
			resp.Screen = string(flow.ScreenLoginSuccess)
		default:
			resp.Screen = string(cl.Flow.Screen())
		}
	case shell.OutcomeDashboard:
		resp.Action = "render"
		resp.Screen = "dashboard"
	}

	c.JSON(http.StatusOK, resp)
}

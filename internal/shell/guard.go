// Package shell decides what the application shell shows for a requested
// path: the portal chooser, the login flow, a redirect, or the dashboard.
package shell

import (
	"strings"

	"github.com/classdesk/classdesk-portal/internal/models"
)

// Input is a snapshot of everything the routing decision depends on. The
// guard itself reads nothing and writes nothing: callers assemble the
// snapshot and apply any instructions the Decision carries.
type Input struct {
	// Path is the normalized request path ("/", "/admin/school/42/users", ...).
	Path string
	// Portal is the stored portal selection, or empty when none.
	Portal models.Portal
	// Session is the stored session, or nil when absent.
	Session *models.Session
	// StoredSchoolID is the confirmed school context, or empty.
	StoredSchoolID string
}

// Outcome is the kind of decision the guard reached.
type Outcome string

const (
	// OutcomeChooser renders the portal chooser.
	OutcomeChooser Outcome = "chooser"
	// OutcomeLoginFlow renders the login flow for Decision.Portal.
	OutcomeLoginFlow Outcome = "login"
	// OutcomeRedirect issues a single redirect to Decision.RedirectTo. The
	// target always satisfies OutcomeDashboard on re-evaluation, so two
	// passes can never loop.
	OutcomeRedirect Outcome = "redirect"
	// OutcomeDashboard renders the authenticated dashboard.
	OutcomeDashboard Outcome = "dashboard"
)

// Decision is the guard's verdict for one request.
type Decision struct {
	Outcome  Outcome
	Portal   models.Portal
	Role     models.Role
	SchoolID string
	// RedirectTo is set only for OutcomeRedirect.
	RedirectTo string
	// PersistPortal instructs the caller to store Decision.Portal durably.
	// Set when a direct sub-flow URL implied a portal that was not stored,
	// so a reload of that URL resolves the same way.
	PersistPortal bool
	// SubFlow names the directly addressed sub-flow ("school-login" or
	// "login-success"), empty otherwise.
	SubFlow string
}

// Sub-flow paths reachable by direct URL, before any portal is stored.
const (
	pathSchoolLogin  = "/school-login"
	pathLoginSuccess = "/login-success"
)

// Decide evaluates the routing decision table for one request.
func Decide(in Input) Decision {
	path := normalize(in.Path)
	portal := in.Portal
	session := in.Session
	if session != nil && !session.Complete() {
		session = nil
	}

	// Direct sub-flow URLs render inside the login flow regardless of the
	// stored screen. Landing here without a portal defaults to admin, since
	// both sub-flows only exist on the admin journey.
	if path == pathSchoolLogin || path == pathLoginSuccess {
		d := Decision{Outcome: OutcomeLoginFlow, Portal: portal, SubFlow: strings.TrimPrefix(path, "/")}
		if !portal.IsValid() {
			d.Portal = models.PortalAdmin
			d.PersistPortal = true
		}
		return d
	}

	if !portal.IsValid() {
		return Decision{Outcome: OutcomeChooser}
	}

	if session == nil {
		return Decision{Outcome: OutcomeLoginFlow, Portal: portal}
	}

	// A session from another portal's role never unlocks this portal.
	if !portal.Accepts(session.User.Role) {
		return Decision{Outcome: OutcomeLoginFlow, Portal: portal}
	}

	// The stored school context wins over whatever the session carries; the
	// session value only fills in when nothing was confirmed explicitly.
	schoolID := in.StoredSchoolID
	if schoolID == "" {
		schoolID = session.User.SchoolID
	}
	if schoolID == "" {
		return Decision{Outcome: OutcomeLoginFlow, Portal: portal}
	}

	d := Decision{
		Outcome:  OutcomeDashboard,
		Portal:   portal,
		Role:     session.User.Role,
		SchoolID: schoolID,
	}

	if portal == models.PortalAdmin {
		// Admin dashboards live under the canonical school-scoped prefix. A
		// path outside it (including a stale school id in the URL) gets one
		// redirect to the canonical dashboard; the target is always under
		// the prefix, so the redirect cannot repeat.
		prefix := "/admin/school/" + schoolID
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			d.Outcome = OutcomeRedirect
			d.RedirectTo = prefix + "/dashboard"
		}
		return d
	}

	// Teacher and student portals are flat: anything under the portal's own
	// prefix renders, anything else re-enters the login flow rather than
	// being second-guessed into a redirect.
	prefix := "/" + string(portal)
	if path == prefix || strings.HasPrefix(path, prefix+"/") {
		return d
	}
	return Decision{Outcome: OutcomeLoginFlow, Portal: portal}
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

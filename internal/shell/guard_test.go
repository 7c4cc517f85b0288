package shell_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/internal/shell"
)

func adminSession() *models.Session {
	return &models.Session{
		AccessToken:  "a",
		RefreshToken: "r",
		User: &models.User{
			ID:       "user-1",
			Name:     "Pat Lee",
			Email:    "pat@school.example",
			Role:     models.RoleAdmin,
			SchoolID: "school-1",
		},
	}
}

func teacherSession() *models.Session {
	s := adminSession()
	s.User.Role = models.RoleTeacher
	return s
}

func TestDecide_NoPortalShowsChooser(t *testing.T) {
	d := shell.Decide(shell.Input{Path: "/"})
	assert.Equal(t, shell.OutcomeChooser, d.Outcome)

	d = shell.Decide(shell.Input{Path: "/admin/school/1/dashboard"})
	assert.Equal(t, shell.OutcomeChooser, d.Outcome)
}

func TestDecide_PortalWithoutSessionShowsLogin(t *testing.T) {
	d := shell.Decide(shell.Input{Path: "/teacher/grades", Portal: models.PortalTeacher})
	assert.Equal(t, shell.OutcomeLoginFlow, d.Outcome)
	assert.Equal(t, models.PortalTeacher, d.Portal)
}

func TestDecide_IncompleteSessionTreatedAsAbsent(t *testing.T) {
	d := shell.Decide(shell.Input{
		Path:    "/teacher",
		Portal:  models.PortalTeacher,
		Session: &models.Session{AccessToken: "a"},
	})
	assert.Equal(t, shell.OutcomeLoginFlow, d.Outcome)
}

func TestDecide_ForeignRoleSessionShowsLogin(t *testing.T) {
	d := shell.Decide(shell.Input{
		Path:    "/admin/school/school-1/dashboard",
		Portal:  models.PortalAdmin,
		Session: teacherSession(),
	})
	assert.Equal(t, shell.OutcomeLoginFlow, d.Outcome)
}

func TestDecide_AdminCanonicalPathRendersDashboard(t *testing.T) {
	d := shell.Decide(shell.Input{
		Path:           "/admin/school/school-1/users",
		Portal:         models.PortalAdmin,
		Session:        adminSession(),
		StoredSchoolID: "school-1",
	})
	assert.Equal(t, shell.OutcomeDashboard, d.Outcome)
	assert.Equal(t, models.RoleAdmin, d.Role)
	assert.Equal(t, "school-1", d.SchoolID)
}

func TestDecide_AdminOffCanonicalPathRedirectsOnce(t *testing.T) {
	in := shell.Input{
		Path:           "/admin",
		Portal:         models.PortalAdmin,
		Session:        adminSession(),
		StoredSchoolID: "school-1",
	}
	d := shell.Decide(in)
	require.Equal(t, shell.OutcomeRedirect, d.Outcome)
	assert.Equal(t, "/admin/school/school-1/dashboard", d.RedirectTo)

	// Re-evaluating the redirect target must settle, never loop.
	in.Path = d.RedirectTo
	d = shell.Decide(in)
	assert.Equal(t, shell.OutcomeDashboard, d.Outcome)
}

func TestDecide_StaleSchoolIDInURLRedirects(t *testing.T) {
	d := shell.Decide(shell.Input{
		Path:           "/admin/school/old-school/dashboard",
		Portal:         models.PortalAdmin,
		Session:        adminSession(),
		StoredSchoolID: "school-2",
	})
	require.Equal(t, shell.OutcomeRedirect, d.Outcome)
	assert.Equal(t, "/admin/school/school-2/dashboard", d.RedirectTo)
}

func TestDecide_StoredSchoolIDWinsOverSession(t *testing.T) {
	// The session carries school-1 but the confirmed context says school-2.
	d := shell.Decide(shell.Input{
		Path:           "/admin/school/school-2/dashboard",
		Portal:         models.PortalAdmin,
		Session:        adminSession(),
		StoredSchoolID: "school-2",
	})
	assert.Equal(t, shell.OutcomeDashboard, d.Outcome)
	assert.Equal(t, "school-2", d.SchoolID)
}

func TestDecide_AdminWithoutSchoolShowsLogin(t *testing.T) {
	sess := adminSession()
	sess.User.SchoolID = ""
	d := shell.Decide(shell.Input{
		Path:    "/admin/school/x/dashboard",
		Portal:  models.PortalAdmin,
		Session: sess,
	})
	assert.Equal(t, shell.OutcomeLoginFlow, d.Outcome)
}

func TestDecide_TeacherUnderPrefixRendersDashboard(t *testing.T) {
	d := shell.Decide(shell.Input{
		Path:    "/teacher/grades",
		Portal:  models.PortalTeacher,
		Session: teacherSession(),
	})
	assert.Equal(t, shell.OutcomeDashboard, d.Outcome)
	assert.Equal(t, "school-1", d.SchoolID)
}

func TestDecide_TeacherOutsidePrefixShowsLogin(t *testing.T) {
	d := shell.Decide(shell.Input{
		Path:    "/admin/school/school-1/dashboard",
		Portal:  models.PortalTeacher,
		Session: teacherSession(),
	})
	assert.Equal(t, shell.OutcomeLoginFlow, d.Outcome)
}

func TestDecide_SubFlowPathsDefaultPortal(t *testing.T) {
	d := shell.Decide(shell.Input{Path: "/school-login"})
	assert.Equal(t, shell.OutcomeLoginFlow, d.Outcome)
	assert.Equal(t, models.PortalAdmin, d.Portal)
	assert.True(t, d.PersistPortal)
	assert.Equal(t, "school-login", d.SubFlow)

	// With a portal already stored, the stored one wins and nothing persists.
	d = shell.Decide(shell.Input{Path: "/login-success", Portal: models.PortalTeacher})
	assert.Equal(t, models.PortalTeacher, d.Portal)
	assert.False(t, d.PersistPortal)
	assert.Equal(t, "login-success", d.SubFlow)
}

func TestDecide_NormalizesPath(t *testing.T) {
	d := shell.Decide(shell.Input{
		Path:           "admin/school/school-1/dashboard/",
		Portal:         models.PortalAdmin,
		Session:        adminSession(),
		StoredSchoolID: "school-1",
	})
	assert.Equal(t, shell.OutcomeDashboard, d.Outcome)
}

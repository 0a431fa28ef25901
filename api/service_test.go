package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/api"
	"github.com/goliatone/go-portal/backendtest"
	"github.com/goliatone/go-portal/client"
	"github.com/goliatone/go-portal/provider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type harness struct {
	ids     *memory.Provider
	backend *backendtest.Server
	session *portal.Provider
	api     *api.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{ids: memory.New(memory.WithHashCost(bcrypt.MinCost))}
	h.backend = backendtest.New(h.ids)

	c := client.New("http://portal.test",
		client.WithTransport(h.backend.Transport()),
		client.WithTokenSource(client.TokenSourceFunc(func(ctx context.Context, force bool) (string, error) {
			return h.session.Token(ctx, force)
		})),
	)
	h.api = api.NewService(c)
	h.session = portal.NewProvider(h.ids, h.api, portal.WithProviderLogger(portal.NopLogger{}))

	require.NoError(t, h.session.Start(context.Background()))
	t.Cleanup(func() { h.session.Close() })

	select {
	case <-h.session.Ready():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "session provider never became ready")
	}
	return h
}

func (h *harness) signUp(t *testing.T, email, name string) *portal.Session {
	t.Helper()
	session, err := h.session.SignUp(context.Background(), email, "secret1", name)
	require.NoError(t, err)
	return session
}

func (h *harness) signIn(t *testing.T, email string) *portal.Session {
	t.Helper()
	session, err := h.session.SignIn(context.Background(), email, "secret1")
	require.NoError(t, err)
	return session
}

func (h *harness) logout(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Logout(context.Background()))
}

// admin signs up email and promotes it.
func (h *harness) admin(t *testing.T, email string) *portal.Session {
	t.Helper()
	session := h.signUp(t, email, "Admin")
	h.logout(t)
	h.backend.SetAdmin(session.UID(), true)
	return h.signIn(t, email)
}

func sampleQuestionnaire(name string) api.QuestionnaireInput {
	return api.QuestionnaireInput{
		ProjectName:         name,
		ProjectType:         api.ProjectWeb,
		BusinessDescription: "Online store for handmade goods",
		TargetAudience:      "Crafters",
		KeyFeatures:         []string{"catalog", " ", "checkout"},
		Budget:              15000,
		Timeline: api.Timeline{
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		TechnicalRequirements: api.TechnicalRequirements{Frontend: []string{"react"}},
	}
}

func TestSignUpRegistersWithoutCredentials(t *testing.T) {
	h := newHarness(t)

	session := h.signUp(t, "ann@example.com", "Ann")
	assert.Equal(t, "Ann", session.DisplayName())
	assert.False(t, session.IsAdmin())

	profile, ok := h.backend.Profile(session.UID())
	require.True(t, ok)
	assert.Equal(t, "ann@example.com", profile.Email)

	registers := h.backend.RequestsTo(http.MethodPost, "/api/auth/register")
	require.Len(t, registers, 1)
	assert.Empty(t, registers[0].Authorization)

	fetches := h.backend.RequestsTo(http.MethodGet, "/api/auth/profile")
	require.Len(t, fetches, 1)
	assert.Equal(t, "Bearer "+session.Token.Value, fetches[0].Authorization)
	assert.NotEmpty(t, fetches[0].RequestID)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ann@example.com", "Ann")
	h.logout(t)

	_, err := h.session.SignUp(context.Background(), "ann@example.com", "secret1", "Ann Again")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))
	assert.Equal(t, "User already exists", portal.UserMessage(err))
	assert.Nil(t, h.session.Current())
}

func TestAdminFlagComesFromBackend(t *testing.T) {
	h := newHarness(t)

	session := h.admin(t, "boss@example.com")
	assert.True(t, session.IsAdmin())
	assert.True(t, portal.IsAdmin(portal.WithSession(context.Background(), h.session.Current())))
}

func TestSignInFailsWhenProfileFetchFails(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ann@example.com", "Ann")
	h.logout(t)

	h.backend.FailNext(http.MethodGet, "/api/auth/profile", http.StatusInternalServerError, 1)

	_, err := h.session.SignIn(context.Background(), "ann@example.com", "secret1")
	require.Error(t, err)
	assert.True(t, portal.HasTextCode(err, portal.TextCodeProfileFetch))
	assert.Nil(t, h.session.Current())
}

func TestUnauthorizedIsRetriedWithFreshToken(t *testing.T) {
	h := newHarness(t)
	session := h.signUp(t, "ann@example.com", "Ann")
	h.backend.ResetRequests()

	h.ids.RevokeTokens(session.UID())

	profile, err := h.api.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ann", profile.DisplayName)

	requests := h.backend.RequestsTo(http.MethodGet, "/api/auth/profile")
	require.Len(t, requests, 2)
	assert.NotEqual(t, requests[0].Authorization, requests[1].Authorization)
	assert.Equal(t, "Bearer "+h.session.Current().Token.Value, requests[1].Authorization)
	assert.Equal(t, 1, h.ids.Refreshes())
}

func TestRefreshFailureEndsSession(t *testing.T) {
	h := newHarness(t)
	session := h.signUp(t, "ann@example.com", "Ann")

	h.ids.RevokeTokens(session.UID())
	h.ids.FailRefresh(portal.ErrSessionExpired)

	_, err := h.api.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, portal.HasTextCode(err, portal.TextCodeSessionExpired))
	assert.Nil(t, h.session.Current())
	assert.Equal(t, portal.StateAnonymous, h.session.State())
}

func TestNoAuthorizationAfterLogout(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ann@example.com", "Ann")
	h.logout(t)
	h.backend.ResetRequests()

	_, err := h.api.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsUnauthorized(err))
	assert.Equal(t, "No token provided", portal.UserMessage(err))

	requests := h.backend.Requests()
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].Authorization)
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ann@example.com", "Ann")

	profile, err := h.api.UpdateProfile(context.Background(), api.ProfileUpdate{DisplayName: "  Ann B  "})
	require.NoError(t, err)
	assert.Equal(t, "Ann B", profile.DisplayName)

	_, err = h.api.UpdateProfile(context.Background(), api.ProfileUpdate{})
	require.Error(t, err)
	assert.Len(t, h.backend.RequestsTo(http.MethodPatch, "/api/auth/profile"), 1)
}

func TestQuestionnaireLifecycle(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ann@example.com", "Ann")
	ctx := context.Background()

	created, err := h.api.SubmitQuestionnaire(ctx, sampleQuestionnaire("  Craft Shop "))
	require.NoError(t, err)
	assert.Equal(t, "Craft Shop", created.ProjectName)
	assert.Equal(t, []string{"catalog", "checkout"}, created.KeyFeatures)
	assert.Equal(t, api.StatusPending, created.Status)
	require.NotNil(t, created.SubmittedBy)
	assert.Equal(t, "Ann", created.SubmittedBy.DisplayName)

	mine, err := h.api.MyQuestionnaires(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, created.ID, mine[0].ID)

	got, err := h.api.Questionnaire(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ProjectName, got.ProjectName)

	input := sampleQuestionnaire("Craft Shop v2")
	input.Budget = 20000
	updated, err := h.api.UpdateQuestionnaire(ctx, created.ID, input)
	require.NoError(t, err)
	assert.Equal(t, "Craft Shop v2", updated.ProjectName)
	assert.Equal(t, 20000.0, updated.Budget)

	require.NoError(t, h.api.DeleteQuestionnaire(ctx, created.ID))

	_, err = h.api.Questionnaire(ctx, created.ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, client.StatusCode(err))
	assert.True(t, goerrors.IsNotFound(err))
}

func TestSubmitQuestionnaireValidatesLocally(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ann@example.com", "Ann")
	h.backend.ResetRequests()

	input := sampleQuestionnaire("Craft Shop")
	input.Budget = 0
	input.ProjectType = "spaceship"

	_, err := h.api.SubmitQuestionnaire(context.Background(), input)
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
	assert.Empty(t, h.backend.Requests())
}

func TestMissingID(t *testing.T) {
	h := newHarness(t)

	_, err := h.api.Questionnaire(context.Background(), "  ")
	assert.ErrorIs(t, err, api.ErrMissingID)
	assert.ErrorIs(t, h.api.DeleteUser(context.Background(), ""), api.ErrMissingID)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ann@example.com", "Ann")

	_, err := h.api.AllQuestionnaires(context.Background(), api.ListOptions{})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, client.StatusCode(err))
	assert.Equal(t, "Admin access required", portal.UserMessage(err))
}

func TestAdminReviewNotifiesSubmitter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ann := h.signUp(t, "ann@example.com", "Ann")
	created, err := h.api.SubmitQuestionnaire(ctx, sampleQuestionnaire("Craft Shop"))
	require.NoError(t, err)
	h.logout(t)

	h.admin(t, "boss@example.com")

	page, err := h.api.AllQuestionnaires(ctx, api.ListOptions{Status: api.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Questionnaires, 1)

	reviewed, err := h.api.UpdateQuestionnaireStatus(ctx, created.ID, api.StatusUpdate{
		Status:        api.StatusInProgress,
		AdminFeedback: " Looks good ",
	})
	require.NoError(t, err)
	assert.Equal(t, api.StatusInProgress, reviewed.Status)
	require.NotNil(t, reviewed.AdminFeedback)
	assert.Equal(t, "Looks good", reviewed.AdminFeedback.Message)

	one, err := h.api.AdminQuestionnaire(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusInProgress, one.Status)

	_, err = h.api.UpdateQuestionnaireStatus(ctx, created.ID, api.StatusUpdate{Status: "archived"})
	require.Error(t, err)

	h.logout(t)
	h.signIn(t, "ann@example.com")

	count, err := h.api.UnreadNotificationsCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	notifications, err := h.api.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "Questionnaire status updated", notifications[0].Title)

	read, err := h.api.MarkNotificationRead(ctx, notifications[0].ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	count, err = h.api.UnreadNotificationsCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, h.api.MarkAllNotificationsRead(ctx))
	count, err = h.api.UnreadNotificationsCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = h.api.UpdateQuestionnaire(ctx, created.ID, sampleQuestionnaire("Too late"))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))
	assert.Equal(t, ann.UID(), one.SubmittedBy.ID)
}

func TestAdminUserManagement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ann := h.signUp(t, "ann@example.com", "Ann")
	_, err := h.api.SubmitQuestionnaire(ctx, sampleQuestionnaire("Craft Shop"))
	require.NoError(t, err)
	h.logout(t)
	h.signUp(t, "bob@example.com", "Bob")
	h.logout(t)
	boss := h.admin(t, "boss@example.com")

	users, err := h.api.Users(ctx, api.ListOptions{Search: "ANN"})
	require.NoError(t, err)
	require.Len(t, users.Users, 1)
	assert.Equal(t, ann.UID(), users.Users[0].ID)

	all, err := h.api.Users(ctx, api.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 2, all.Pages)
	assert.Len(t, all.Users, 2)

	details, err := h.api.UserDetails(ctx, ann.UID())
	require.NoError(t, err)
	assert.Equal(t, "Ann", details.User.DisplayName)
	require.Len(t, details.Questionnaires, 1)
	assert.Equal(t, "Craft Shop", details.Questionnaires[0].ProjectName)

	promoted, err := h.api.UpdateUserRole(ctx, ann.UID(), true)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin)

	summary, err := h.api.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalUsers)
	assert.Equal(t, 1, summary.TotalQuestionnaires)
	assert.Equal(t, 1, summary.QuestionnairesStatusCount.Pending)
	require.Len(t, summary.RecentQuestionnaires, 1)

	err = h.api.DeleteUser(ctx, boss.UID())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))

	require.NoError(t, h.api.DeleteUser(ctx, ann.UID()))
	_, found := h.ids.Lookup("ann@example.com")
	assert.False(t, found)

	summary, err = h.api.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalUsers)
	assert.Zero(t, summary.TotalQuestionnaires)
}

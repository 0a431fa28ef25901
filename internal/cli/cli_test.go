package cli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/backendtest"
	"github.com/goliatone/go-portal/client"
	"github.com/goliatone/go-portal/internal/cli"
	"github.com/goliatone/go-portal/provider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testAPIURL = "http://localhost:5000"

type harness struct {
	ids     *memory.Provider
	backend *backendtest.Server
	env     map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("PORTAL_API_URL", testAPIURL)

	ids := memory.New(memory.WithHashCost(bcrypt.MinCost))
	return &harness{
		ids:     ids,
		backend: backendtest.New(ids),
		env:     map[string]string{},
	}
}

func (h *harness) factory(_ context.Context, settings cli.Settings, logs portal.LoggerProvider) (*cli.App, error) {
	return cli.Wire(h.ids, settings.Config.APIURL, logs, client.WithTransport(h.backend.Transport())), nil
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	nop := portal.LoggerProviderFunc(func(string) portal.Logger { return portal.NopLogger{} })
	root := cli.NewRootCmd(
		cli.WithAppFactory(h.factory),
		cli.WithLoggerProvider(nop),
		cli.WithEnv(func(key string) string { return h.env[key] }),
	)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := cli.Run(context.Background(), root)
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func (h *harness) register(t *testing.T, email, name string) {
	t.Helper()
	out := h.mustRun(t, "register", "--email", email, "--password", "secret1", "--name", name)
	assert.Equal(t, "Account created. Signed in as "+name+"\n", out)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const questionnaireYAML = `projectName: Shop
projectType: web
businessDescription: Online store for handmade goods
targetAudience: Crafters
keyFeatures:
  - catalog
  - checkout
budget: 15000
timeline:
  startDate: 2025-01-01T00:00:00Z
  endDate: 2025-06-01T00:00:00Z
technicalRequirements:
  frontend: [react]
`

func TestRegisterLoginLogout(t *testing.T) {
	h := newHarness(t)

	h.register(t, "ann@example.com", "Ann")

	out := h.mustRun(t, "whoami")
	assert.Contains(t, out, `"displayName": "Ann"`)
	assert.Contains(t, out, `"email": "ann@example.com"`)

	assert.Equal(t, "Signed out\n", h.mustRun(t, "logout"))
	assert.Equal(t, "Not signed in\n", h.mustRun(t, "whoami"))
	assert.Equal(t, "Not signed in\n", h.mustRun(t, "logout"))

	out = h.mustRun(t, "login", "--email", "ann@example.com", "--password", "secret1")
	assert.Equal(t, "Signed in as Ann\n", out)
}

func TestLoginReadsPasswordFromEnv(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ann@example.com", "Ann")
	h.mustRun(t, "logout")

	h.env["PORTAL_PASSWORD"] = "secret1"
	out := h.mustRun(t, "login", "--email", "ann@example.com")
	assert.Equal(t, "Signed in as Ann\n", out)
}

func TestLoginErrors(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ann@example.com", "Ann")
	h.mustRun(t, "logout")

	_, err := h.run(t, "login", "--email", "ann@example.com", "--password", "wrong-one")
	require.Error(t, err)
	assert.True(t, portal.HasTextCode(err, portal.TextCodeInvalidCredentials))
	assert.Equal(t, cli.ExitAuth, cli.ExitCode(err))

	_, err = h.run(t, "login", "--email", "ann@example.com")
	require.Error(t, err)
	assert.Equal(t, cli.ExitUsage, cli.ExitCode(err))
	assert.Contains(t, cli.Message(err), "password")
}

func TestRegisterShortPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "register", "--email", "ann@example.com", "--password", "abc", "--name", "Ann")
	require.Error(t, err)
	assert.True(t, portal.HasTextCode(err, portal.TextCodePasswordTooShort))
	assert.Empty(t, h.backend.Requests())
}

func TestCommandsRequireSession(t *testing.T) {
	h := newHarness(t)

	for _, args := range [][]string{
		{"profile"},
		{"questionnaire", "list"},
		{"notifications"},
		{"admin", "analytics"},
	} {
		_, err := h.run(t, args...)
		require.Error(t, err, args)
		assert.True(t, portal.HasTextCode(err, portal.TextCodeNotAuthenticated), args)
		assert.Equal(t, cli.ExitAuth, cli.ExitCode(err), args)
	}
}

func TestProfileUpdate(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ann@example.com", "Ann")

	out := h.mustRun(t, "profile", "update", "--name", "Annie")
	assert.Contains(t, out, `"displayName": "Annie"`)

	out = h.mustRun(t, "profile")
	assert.Contains(t, out, `"displayName": "Annie"`)
}

func TestQuestionnaireCommands(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ann@example.com", "Ann")

	file := writeFile(t, "shop.yaml", questionnaireYAML)
	out := h.mustRun(t, "questionnaire", "submit", "-f", file)
	assert.Contains(t, out, `"projectName": "Shop"`)
	assert.Contains(t, out, `"status": "pending"`)

	out = h.mustRun(t, "q", "list")
	assert.Contains(t, out, `"projectName": "Shop"`)

	submitted := h.backend.RequestsTo("POST", "/api/questionnaire")
	require.Len(t, submitted, 1)
	assert.NotEmpty(t, submitted[0].Authorization)

	_, err := h.run(t, "questionnaire", "submit", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, cli.ExitUsage, cli.ExitCode(err))

	invalid := writeFile(t, "invalid.yaml", "projectName: Shop\n")
	_, err = h.run(t, "questionnaire", "submit", "-f", invalid)
	require.Error(t, err)
	assert.Equal(t, cli.ExitUsage, cli.ExitCode(err))
	assert.Len(t, h.backend.RequestsTo("POST", "/api/questionnaire"), 1)
}

func TestNotificationCommands(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ann@example.com", "Ann")

	identity, ok := h.ids.Lookup("ann@example.com")
	require.True(t, ok)
	n := h.backend.Notify(identity.UID, "Hello", "Welcome aboard", "info")

	assert.Equal(t, "1\n", h.mustRun(t, "notifications", "unread"))

	out := h.mustRun(t, "n")
	assert.Contains(t, out, `"title": "Hello"`)

	out = h.mustRun(t, "notifications", "read", n.ID)
	assert.Contains(t, out, `"read": true`)
	assert.Equal(t, "0\n", h.mustRun(t, "notifications", "unread"))

	assert.Equal(t, "All notifications marked as read\n", h.mustRun(t, "notifications", "read-all"))
}

func TestAdminCommands(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ann@example.com", "Ann")

	_, err := h.run(t, "admin", "analytics")
	require.Error(t, err)
	assert.True(t, portal.HasTextCode(err, portal.TextCodeAdminRequired))
	assert.Equal(t, cli.ExitAuth, cli.ExitCode(err))
	assert.Empty(t, h.backend.RequestsTo("GET", "/api/admin/analytics"))

	identity, _ := h.ids.Lookup("ann@example.com")
	h.backend.SetAdmin(identity.UID, true)

	out := h.mustRun(t, "admin", "analytics")
	assert.Contains(t, out, `"totalUsers": 1`)

	out = h.mustRun(t, "admin", "users", "--search", "ann")
	assert.Contains(t, out, `"email": "ann@example.com"`)
}

func TestConfigCommandRunsOffline(t *testing.T) {
	h := newHarness(t)
	t.Setenv("PORTAL_IDP_CLIENT_SECRET", "hunter2")
	t.Setenv("PORTAL_STATE_PATH", "/tmp/portal-test.db")

	out := h.mustRun(t, "config", "--api-url", "http://localhost:6000/")
	assert.Contains(t, out, `"api_url": "http://localhost:6000"`)
	assert.Contains(t, out, `"client_secret": "********"`)
	assert.NotContains(t, out, "hunter2")
	assert.Empty(t, h.backend.Requests())
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t)
	t.Setenv("PORTAL_API_URL", "")

	_, err := h.run(t, "whoami")
	require.Error(t, err)
	assert.True(t, portal.HasTextCode(err, portal.TextCodeInvalidConfig))
	assert.Equal(t, cli.ExitUsage, cli.ExitCode(err))
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, cli.ExitSuccess},
		{"canceled", context.Canceled, cli.ExitInterrupted},
		{"wrapped canceled", goerrors.Wrap(context.Canceled, goerrors.CategoryInternal, "stopped"), cli.ExitInterrupted},
		{"plain", errors.New("boom"), cli.ExitError},
		{"auth", portal.ErrNotAuthenticated, cli.ExitAuth},
		{"authz", portal.ErrAdminRequired, cli.ExitAuth},
		{"bad input", goerrors.New("bad", goerrors.CategoryBadInput), cli.ExitUsage},
		{"external", goerrors.New("down", goerrors.CategoryExternal), cli.ExitError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cli.ExitCode(tc.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Admin access required", cli.Message(portal.ErrAdminRequired))
	assert.Equal(t, "boom", cli.Message(errors.New("boom")))

	err := portal.SignInInput{Email: "ann@example.com"}.Validate()
	require.Error(t, err)
	msg := cli.Message(err)
	assert.True(t, strings.HasPrefix(msg, "Invalid email or password ("), msg)
	assert.Contains(t, msg, "password")
}

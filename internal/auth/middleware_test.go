package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stpericial/stpericial-backend/internal/auth/jwt"
	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/config"
	"github.com/stpericial/stpericial-backend/pkg/httputil"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/permissions"
	"github.com/stpericial/stpericial-backend/pkg/testutil"
)

func setup(t *testing.T, perm string) (http.Handler, *jwt.Manager, *domain.Requester) {
	t.Helper()
	manager := jwt.NewManager(&config.JWTConfig{Secret: "test-secret", Issuer: "stpericial"})
	seen := &domain.Requester{}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := CurrentUser(r.Context())
		require.NoError(t, err)
		*seen = u
		w.WriteHeader(http.StatusNoContent)
	})

	var h http.Handler = final
	if perm != "" {
		h = RequirePermission(perm)(h)
	}
	return Authenticate(manager, logger.Nop())(h), manager, seen
}

func tokenFor(t *testing.T, m *jwt.Manager, role string) string {
	t.Helper()
	r := testutil.RequesterFixture()
	token, err := m.IssueAccessToken(jwt.UserInfo{ID: r.ID, Email: r.Email, Name: r.Name, Role: role}, time.Minute)
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	h, manager, seen := setup(t, "")

	t.Run("missing header", func(t *testing.T) {
		rr := testutil.ExecuteRequest(h, testutil.NewHTTPRequest(http.MethodGet, "/", nil))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := testutil.NewHTTPRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		rr := testutil.ExecuteRequest(h, req)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("invalid token", func(t *testing.T) {
		rr := testutil.ExecuteRequest(h, testutil.WithBearer(testutil.NewHTTPRequest(http.MethodGet, "/", nil), "bogus"))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)

		var body httputil.Response
		testutil.ParseJSONBody(t, rr, &body)
		require.NotNil(t, body.Error)
		assert.Equal(t, "TOKEN_INVALID", body.Error.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := testutil.WithBearer(testutil.NewHTTPRequest(http.MethodGet, "/", nil), tokenFor(t, manager, permissions.RoleExpert))
		rr := testutil.ExecuteRequest(h, req)
		testutil.AssertStatus(t, rr, http.StatusNoContent)
		assert.Equal(t, testutil.RequesterFixture(), *seen)
	})
}

func TestRequirePermission(t *testing.T) {
	h, manager, _ := setup(t, permissions.ReportsSend)

	tests := []struct {
		role string
		want int
	}{
		{permissions.RoleAdmin, http.StatusNoContent},
		{permissions.RoleExpert, http.StatusNoContent},
		{permissions.RoleAssistant, http.StatusForbidden},
		{"visitor", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			req := testutil.WithBearer(testutil.NewHTTPRequest(http.MethodPost, "/", nil), tokenFor(t, manager, tt.role))
			rr := testutil.ExecuteRequest(h, req)
			testutil.AssertStatus(t, rr, tt.want)
		})
	}
}

func TestCurrentUser_Unauthenticated(t *testing.T) {
	_, err := CurrentUser(testutil.DefaultTestContext(t))
	assert.Error(t, err)
}

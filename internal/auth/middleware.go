package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/stpericial/stpericial-backend/internal/auth/jwt"
	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/httputil"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/permissions"
)

// Authenticate validates the Bearer token and stores the user in the
// request context
func Authenticate(manager *jwt.Manager, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.ErrorLocalized(w, r, errors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				httputil.ErrorLocalized(w, r, errors.Unauthorized("invalid authorization header format"))
				return
			}

			claims, err := manager.ValidateAccessToken(parts[1])
			if err != nil {
				log.Debug().Err(err).Msg("token validation failed")
				httputil.ErrorLocalized(w, r, err)
				return
			}

			ctx := httputil.WithUserContext(r.Context(), claims.UserID, claims.Email, claims.Name, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects users whose role does not grant perm
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := httputil.GetUserRole(r.Context())
			if !permissions.Allowed(role, perm) {
				httputil.ErrorLocalized(w, r, errors.Forbidden("role "+role+" lacks "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentUser returns the authenticated requester
func CurrentUser(ctx context.Context) (domain.Requester, error) {
	id := httputil.GetUserID(ctx)
	if id == "" {
		return domain.Requester{}, errors.Unauthorized("not authenticated")
	}
	return domain.Requester{
		ID:    id,
		Name:  httputil.GetUserName(ctx),
		Email: httputil.GetUserEmail(ctx),
		Role:  httputil.GetUserRole(ctx),
	}, nil
}

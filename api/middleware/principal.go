// Package middleware holds the echo middleware that adapts an inbound
// request into the internal/auth.Principal the engine and
// source-table services require. Authentication itself is a
// collaborator out of this core's scope (spec.md §1); this middleware
// only shapes whatever the collaborator established (a session, a
// reverse-proxy header, a signed cookie) into the Principal seam.
package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caesium-cloud/pipeline/internal/auth"
)

const principalKey = "principal"

// Principal extracts the auth.Principal a prior handler attached to
// the echo.Context. Request handlers call this rather than threading
// a Principal through query params, per spec.md §9 "Request-scoped
// session access".
func Principal(c echo.Context) auth.Principal {
	if p, ok := c.Get(principalKey).(auth.Principal); ok {
		return p
	}
	return auth.Principal{}
}

// FromHeaders builds a Principal from the headers the auth
// collaborator is expected to set once it authenticates the caller
// (X-User-Id, X-Username, X-Roles, X-Admin). It never consults a
// database or ambient session store itself, matching the Principal
// seam's "just an argument" contract.
func FromHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			p := auth.Principal{
				Username: req.Header.Get("X-Username"),
				Admin:    req.Header.Get("X-Admin") == "true",
			}

			if raw := req.Header.Get("X-User-Id"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(400, "invalid X-User-Id header")
				}
				p.UserID = id
			}

			if raw := req.Header.Get("X-Roles"); raw != "" {
				for _, role := range strings.Split(raw, ",") {
					if role = strings.TrimSpace(role); role != "" {
						p.Roles = append(p.Roles, role)
					}
				}
			}

			c.Set(principalKey, p)
			return next(c)
		}
	}
}

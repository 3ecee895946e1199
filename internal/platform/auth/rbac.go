package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	// RoleRunner executes runs: reads everything and records results.
	RoleRunner = "runner"
	// RoleAuthor additionally creates, closes, reopens and resets runs.
	RoleAuthor = "author"
	RoleAdmin  = "admin"
)

var roleLevels = map[string]int{
	RoleRunner: 1,
	RoleAuthor: 2,
	RoleAdmin:  3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		if level := roleLevels[strings.ToLower(strings.TrimSpace(role))]; level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// RequiredRoleForRequest maps a request to the minimum role. Reads, result
// submission and deleting a single result need runner; other writes need author.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleRunner
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	if strings.HasPrefix(path, "/runs/") {
		rest := strings.TrimPrefix(path, "/runs/")
		parts := strings.Split(rest, "/")
		if len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodPost {
			return RoleRunner
		}
		if len(parts) == 3 && parts[1] == "results" && r.Method == http.MethodDelete {
			return RoleRunner
		}
	}
	return RoleAuthor
}

func MethodRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if HasAtLeast(identity.Roles, RequiredRoleForRequest(r)) {
			return nil
		}
		return ErrForbidden
	}
}

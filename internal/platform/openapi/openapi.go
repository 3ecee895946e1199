// Package openapi validates inbound requests against an OpenAPI 3 document
// before they reach the handlers.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/quickrail-labs/quickrail-go/internal/platform/httpserver"
	"github.com/quickrail-labs/quickrail-go/internal/platform/requestid"
)

type Validator struct {
	router routers.Router
	logger *slog.Logger
}

func NewValidator(spec []byte, logger *slog.Logger) (*Validator, error) {
	if len(spec) == 0 {
		return nil, errors.New("openapi document is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi router: %w", err)
	}
	return &Validator{router: router, logger: logger}, nil
}

// Wrap rejects requests that violate the document with 400. Requests to
// paths the document does not describe pass through unchanged.
func (v *Validator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			id, _ := requestid.FromContext(r.Context())
			v.logger.Info("request rejected by schema", "request_id", id, "path", r.URL.Path, "error", err)
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_request",
				"detail":     requestErrorDetail(err),
				"request_id": id,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestErrorDetail(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("parameter %q: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.RequestBody != nil {
			if reqErr.Err != nil {
				return "request body: " + reqErr.Err.Error()
			}
			return "request body: " + reqErr.Reason
		}
	}
	return err.Error()
}

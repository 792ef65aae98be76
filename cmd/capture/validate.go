package main

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/vectorly/cdpcapture/lib/logger"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// loadRouter parses the embedded OpenAPI document and builds the router
// openapi3filter uses to match a request to its operation before validating
// it against the document's declared schema.
func loadRouter() (routers.Router, error) {
	doc, err := openapi3.NewLoader().LoadFromData(openAPIYAML)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, err
	}
	return legacy.NewRouter(doc)
}

// validateRequest returns chi middleware rejecting any request that does
// not match the embedded OpenAPI document.
func validateRequest(router routers.Router) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				// Unmatched paths (e.g. /spec.yaml) fall through unvalidated.
				next.ServeHTTP(w, r)
				return
			}

			reqCtx := r.Context()
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
			}
			if err := openapi3filter.ValidateRequest(reqCtx, input); err != nil {
				logger.FromContext(reqCtx).Warn("capture: request failed openapi validation", "err", err, "path", r.URL.Path)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Name is the document name served under /openapi/{name}.json.
const Name = "xentri"

//go:embed xentri.yaml
var xentriYAML []byte

// Load parses and validates the embedded HTTP contract. Each call returns a fresh document
// so callers may mutate it (for example clearing servers before building a router).
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(xentriYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi contract: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi contract: %w", err)
	}
	return doc, nil
}

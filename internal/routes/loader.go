package routes

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE []byte

// Error codes for route-table loading.
const (
	ErrCodeNotFound    = "R001" // Routes file not found
	ErrCodeParseFailed = "R002" // CUE parse/compile failed
	ErrCodeInvalid     = "R003" // Table does not satisfy the schema
	ErrCodeEmpty       = "R004" // Table declares no routes
)

// LoadError is a structured route-loading error.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads a CUE route table from path, validates it against the embedded
// schema, and returns the resulting table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("routes file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading routes file: %v", err)}
	}
	return Parse(data)
}

// Parse validates CUE source against the embedded schema and builds a table.
func Parse(data []byte) (*Table, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE)
	if err := schema.Err(); err != nil {
		// The embedded schema is part of the binary; failing to compile it
		// is a build defect, not user input.
		return nil, &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("compiling embedded schema: %v", err)}
	}

	table := ctx.CompileBytes(data)
	if err := table.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("compiling routes: %v", err)}
	}

	unified := schema.Unify(table)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("routes do not satisfy schema: %v", err)}
	}

	routesVal := unified.LookupPath(cue.ParsePath("routes"))
	if !routesVal.Exists() {
		return nil, &LoadError{Code: ErrCodeEmpty, Message: "no routes field declared"}
	}

	decoded := make(map[string]Route)
	if err := routesVal.Decode(&decoded); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("decoding routes: %v", err)}
	}
	if len(decoded) == 0 {
		return nil, &LoadError{Code: ErrCodeEmpty, Message: "route table declares no routes"}
	}

	return NewTable(decoded), nil
}

package gateway

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// Schema definitions.
const (
	defTask      = "#Task"
	defOfferPage = "#OfferPage"
	defStats     = "#Stats"
	defWallet    = "#Wallet"
	defEvent     = "#Event"
)

// Validator checks raw JSON payloads against the embedded CUE schema.
//
// Thread-safety: CUE values are not safe for concurrent use, so every check
// holds mu.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile wire schema: %s", errors.Details(err, nil))
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Check validates data against the named definition (e.g. "#Task").
// JSON is valid CUE, so the payload is compiled directly and unified with the
// definition; every field must be concrete.
func (v *Validator) Check(def string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	d := v.schema.LookupPath(cue.ParsePath(def))
	if !d.Exists() {
		return fmt.Errorf("schema definition %s not found", def)
	}

	val := v.ctx.CompileBytes(data, cue.Filename("payload.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("payload is not valid JSON: %s", errors.Details(err, nil))
	}

	if err := d.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("payload violates %s: %s", def, errors.Details(err, nil))
	}
	return nil
}

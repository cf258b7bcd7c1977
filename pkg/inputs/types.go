// Package inputs builds the variable bag a run starts with from command-line
// assignments, vars files and the blueprint's declared input form.
package inputs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// ErrMissingInput is wrapped by MissingInputError.
var ErrMissingInput = errors.New("missing required input")

// MissingInputError lists required inputs that no source supplied.
type MissingInputError struct {
	Names []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingInput, strings.Join(e.Names, ", "))
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// Prompter asks the operator for a value of a declared field.
type Prompter interface {
	Prompt(field schema.InputField) (string, error)
}

// Field types recognised when coercing raw text.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

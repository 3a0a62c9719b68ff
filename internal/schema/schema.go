package schema

import (
	"fmt"

	"github.com/stackclass/backend/internal/types"
)

// Definition is the course layout parsed from one commit of a course
// template repository. Stage order follows the lexicographic order of
// the stage directories, which is how authors sequence them.
type Definition struct {
	Slug          string
	Name          string
	ShortName     string
	ReleaseStatus types.ReleaseStatus
	Description   string
	Summary       string
	Stages        []StageDef
	Extensions    []ExtensionDef
}

// StageDef is one stage of a course. Weight encodes ordering across the
// whole course: base stages use their index, extension stages use
// (extensionIndex+1)*1000 + stageIndex so they always sort after base
// stages and never collide between extensions.
type StageDef struct {
	Slug        string
	Name        string
	Difficulty  types.Difficulty
	Description string
	Instruction string
	Solution    string
	Weight      int
}

// ExtensionDef is an optional set of additional stages.
type ExtensionDef struct {
	Slug        string
	Name        string
	Description string
	Stages      []StageDef
}

// ParseError reports course repository content that cannot be used:
// missing files, malformed YAML, or invalid field values. Path is the
// offending path inside the repository.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

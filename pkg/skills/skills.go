// Package skills manages reusable code skills: validated sources with a
// run() entry point, persisted in storage and indexed for semantic search.
package skills

import (
	"regexp"
	"strings"

	"go.starlark.net/syntax"

	"github.com/codemode-ai/codemode/pkg/errors"
)

// Reserved names that would shadow the injected namespaces or the entry
// point itself.
var reservedNames = map[string]bool{
	"tools":     true,
	"skills":    true,
	"artifacts": true,
	"deps":      true,
	"run":       true,
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// parseOpts matches the language surface of the execution engine, so a
// skill that validates here also loads there.
var parseOpts = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

const maxNameBytes = 64

// Parameter is one parameter of a skill's run function, reflected from
// the source for schema display.
type Parameter struct {
	Name       string `json:"name"`
	HasDefault bool   `json:"has_default,omitempty"`
	Default    string `json:"default,omitempty"`
}

// Skill is a validated, invocable unit of code.
type Skill struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Source      string      `json:"source"`
}

// New validates name and source and builds a Skill. The source must parse
// and define a run function. An empty description falls back to the
// module docstring.
func New(name, source, description string) (*Skill, error) {
	if err := ValidateSkillName(name); err != nil {
		return nil, err
	}

	file, err := parseOpts.Parse(name+".py", source, 0)
	if err != nil {
		return nil, errors.New(errors.KindInvalidSource, "skill source does not parse", err)
	}

	runDef := findRunDef(file)
	if runDef == nil {
		return nil, errors.Newf(errors.KindInvalidSource, "skill %q does not define a run function", name)
	}

	if description == "" {
		description = moduleDocstring(file)
	}

	return &Skill{
		Name:        name,
		Description: description,
		Parameters:  reflectParams(runDef),
		Source:      source,
	}, nil
}

// ValidateSkillName enforces the naming rules for skills: identifier
// shape, bounded length, not a reserved namespace name.
func ValidateSkillName(name string) error {
	if name == "" {
		return errors.NewInvalidName("skill name is empty", nil)
	}
	if len(name) > maxNameBytes {
		return errors.Newf(errors.KindInvalidName, "skill name %q exceeds %d bytes", name, maxNameBytes)
	}
	if !namePattern.MatchString(name) {
		return errors.Newf(errors.KindInvalidName, "skill name %q is not a valid identifier", name)
	}
	if reservedNames[name] {
		return errors.Newf(errors.KindInvalidName, "skill name %q is reserved", name)
	}
	return nil
}

func findRunDef(file *syntax.File) *syntax.DefStmt {
	for _, stmt := range file.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok && def.Name.Name == "run" {
			return def
		}
	}
	return nil
}

func moduleDocstring(file *syntax.File) string {
	if len(file.Stmts) == 0 {
		return ""
	}
	expr, ok := file.Stmts[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}
	lit, ok := expr.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}
	doc, ok := lit.Value.(string)
	if !ok {
		return ""
	}
	doc = strings.TrimSpace(doc)
	if i := strings.IndexByte(doc, '\n'); i >= 0 {
		doc = strings.TrimSpace(doc[:i])
	}
	return doc
}

func reflectParams(def *syntax.DefStmt) []Parameter {
	var params []Parameter
	for _, expr := range def.Params {
		switch p := expr.(type) {
		case *syntax.Ident:
			params = append(params, Parameter{Name: p.Name})
		case *syntax.BinaryExpr:
			if p.Op != syntax.EQ {
				continue
			}
			ident, ok := p.X.(*syntax.Ident)
			if !ok {
				continue
			}
			params = append(params, Parameter{
				Name:       ident.Name,
				HasDefault: true,
				Default:    exprString(p.Y),
			})
		case *syntax.UnaryExpr:
			// *args / **kwargs: shown by convention, no default.
			if ident, ok := p.X.(*syntax.Ident); ok {
				prefix := "*"
				if p.Op == syntax.STARSTAR {
					prefix = "**"
				}
				params = append(params, Parameter{Name: prefix + ident.Name})
			}
		}
	}
	return params
}

func exprString(expr syntax.Expr) string {
	switch e := expr.(type) {
	case *syntax.Literal:
		return e.Raw
	case *syntax.Ident:
		return e.Name
	default:
		return ""
	}
}

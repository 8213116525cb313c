package runtime

import (
	"fmt"
	"strings"

	"github.com/ketju/ginja/nodes"
)

// ErrorKind classifies runtime errors.
type ErrorKind string

const (
	KindTemplate ErrorKind = "template error"
	KindRuntime  ErrorKind = "runtime error"
	KindFilter   ErrorKind = "filter error"
	KindTest     ErrorKind = "test error"
	KindImport   ErrorKind = "import error"
	KindMacro    ErrorKind = "macro error"
)

// Error is the base runtime error. It carries the template name and source
// line of the failing node. All fields are exported so the error survives a
// gob round trip through cross-process caches.
type Error struct {
	Kind     ErrorKind
	Message  string
	Template string
	Line     int
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Template != "" {
		fmt.Fprintf(&b, " (in %s", e.Template)
		if e.Line > 0 {
			fmt.Fprintf(&b, ", line %d", e.Line)
		}
		b.WriteString(")")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewRuntimeError creates a template runtime error.
func NewRuntimeError(format string, args ...any) *Error {
	return &Error{Kind: KindRuntime, Message: fmt.Sprintf(format, args...)}
}

// UndefinedError reports an operation on an undefined value that the active
// undefined variant does not tolerate.
type UndefinedError struct {
	Name     string
	Hint     string
	Template string
	Line     int
}

func (e *UndefinedError) Error() string {
	msg := e.Hint
	if msg == "" {
		if e.Name != "" {
			msg = fmt.Sprintf("%q is undefined", e.Name)
		} else {
			msg = "value is undefined"
		}
	}
	if e.Template != "" && e.Line > 0 {
		return fmt.Sprintf("undefined error: %s (in %s, line %d)", msg, e.Template, e.Line)
	}
	return "undefined error: " + msg
}

// SecurityError reports a sandbox policy violation. Operation names what was
// attempted; Target names the attribute, callable or operator involved.
type SecurityError struct {
	Operation string
	Target    string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security error: %s %s is not allowed", e.Operation, e.Target)
}

// TemplateNotFoundError is returned by loaders and by include/import/extends
// when a template cannot be located.
type TemplateNotFoundError struct {
	Name  string
	Tried []string
}

func (e *TemplateNotFoundError) Error() string {
	if len(e.Tried) > 0 {
		return fmt.Sprintf("template %q not found (tried %s)", e.Name, strings.Join(e.Tried, ", "))
	}
	return fmt.Sprintf("template %q not found", e.Name)
}

// TemplatesNotFoundError is returned when none of several candidate names
// could be loaded.
type TemplatesNotFoundError struct {
	Names []string
}

func (e *TemplatesNotFoundError) Error() string {
	return fmt.Sprintf("none of the templates %s could be found", strings.Join(e.Names, ", "))
}

func isNotFound(err error) bool {
	switch err.(type) {
	case *TemplateNotFoundError, *TemplatesNotFoundError:
		return true
	}
	return false
}

// withPosition attaches template name and line information to an error that
// does not carry them yet.
func withPosition(err error, template string, pos nodes.Position) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *Error:
		if e.Template == "" {
			e.Template = template
		}
		if e.Line == 0 {
			e.Line = pos.Line
		}
		return e
	case *UndefinedError:
		if e.Template == "" {
			e.Template = template
		}
		if e.Line == 0 {
			e.Line = pos.Line
		}
		return e
	case *SecurityError, *TemplateNotFoundError, *TemplatesNotFoundError:
		return e
	case *breakErr, *continueErr:
		return e
	default:
		return &Error{
			Kind:     KindTemplate,
			Message:  err.Error(),
			Template: template,
			Line:     pos.Line,
			Cause:    err,
		}
	}
}

// breakErr and continueErr are internal control-flow signals; they never
// escape a loop body.
type breakErr struct{}

func (*breakErr) Error() string { return "break outside of loop" }

type continueErr struct{}

func (*continueErr) Error() string { return "continue outside of loop" }

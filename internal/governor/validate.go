package governor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrValidation matches every *ValidationError with errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports why content was rejected.
type ValidationError struct {
	Validator    string
	Output       string
	RolledBack   bool
	RestoredFrom string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation failed (%s): %s", e.Validator, strings.TrimSpace(e.Output))
	if e.RolledBack {
		msg += fmt.Sprintf("; rolled back to %s", e.RestoredFrom)
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validator checks candidate content for the guarded file at path.
type Validator interface {
	Name() string
	Validate(ctx context.Context, path string, content []byte) error
}

// DefaultValidators returns the checks for path: a syntax check and
// required top-level symbols for Go sources, plus command when non-empty.
func DefaultValidators(path string, required []string, command []string) []Validator {
	var vs []Validator
	if strings.EqualFold(filepath.Ext(path), ".go") {
		vs = append(vs, GoSyntax{})
		if len(required) > 0 {
			vs = append(vs, RequiredSymbols{Names: required})
		}
	}
	if len(command) > 0 {
		vs = append(vs, Command{Args: command})
	}
	return vs
}

// GoSyntax parses content as a Go source file.
type GoSyntax struct{}

func (GoSyntax) Name() string { return "go-syntax" }

func (GoSyntax) Validate(_ context.Context, path string, content []byte) error {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, filepath.Base(path), content, parser.AllErrors|parser.SkipObjectResolution); err != nil {
		return &ValidationError{Validator: "go-syntax", Output: err.Error()}
	}
	return nil
}

// RequiredSymbols rejects Go source that no longer declares the named
// top-level functions, types, variables or constants.
type RequiredSymbols struct {
	Names []string
}

func (RequiredSymbols) Name() string { return "required-symbols" }

func (r RequiredSymbols) Validate(_ context.Context, path string, content []byte) error {
	f, err := parser.ParseFile(token.NewFileSet(), filepath.Base(path), content, parser.SkipObjectResolution)
	if err != nil {
		return &ValidationError{Validator: "required-symbols", Output: err.Error()}
	}

	declared := map[string]bool{}
	for _, d := range f.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				declared[d.Name.Name] = true
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					declared[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, n := range s.Names {
						declared[n.Name] = true
					}
				}
			}
		}
	}

	var missing []string
	for _, n := range r.Names {
		if !declared[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Validator: "required-symbols", Output: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}

// Command runs an external checker. "{file}" in Args is replaced with a
// temporary copy of the candidate content; without it the path is appended.
// A non-zero exit rejects the content with the command's output.
type Command struct {
	Args    []string
	Timeout time.Duration
}

func (c Command) Name() string {
	if len(c.Args) == 0 {
		return "command"
	}
	return filepath.Base(c.Args[0])
}

func (c Command) Validate(ctx context.Context, path string, content []byte) error {
	if len(c.Args) == 0 {
		return nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	tmp, err := os.CreateTemp("", "ouro-validate-*"+filepath.Ext(path))
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	args := make([]string, 0, len(c.Args)+1)
	substituted := false
	for _, a := range c.Args {
		if strings.Contains(a, "{file}") {
			a = strings.ReplaceAll(a, "{file}", tmp.Name())
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, tmp.Name())
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = filepath.Dir(path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &ValidationError{Validator: c.Name(), Output: fmt.Sprintf("timed out after %s", timeout)}
		}
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			msg = err.Error()
		}
		return &ValidationError{Validator: c.Name(), Output: msg}
	}
	return nil
}

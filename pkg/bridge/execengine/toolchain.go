package execengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// scratchPrefix keeps scratch directory names short; deep host paths plus
// long temp names are what push reference paths past OS ceilings.
const scratchPrefix = "uxb"

// Toolchain executes fragments by generating a scratch program and running
// it through the host Go toolchain. The reference set is resolved from the
// toolchain's own package catalog and written out-of-band (go.mod plus the
// generated import block), never on a command line.
type Toolchain struct {
	goBin    string
	workRoot string
	timeout  time.Duration
	excluded []string

	refsOnce sync.Once
	refs     *referenceSet
	refsErr  error
}

// NewToolchain builds the strategy. workRoot empty means the system temp
// directory; timeout bounds one fragment run.
func NewToolchain(workRoot string, timeout time.Duration, excludedModules []string) *Toolchain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Toolchain{
		goBin:    "go",
		workRoot: workRoot,
		timeout:  timeout,
		excluded: excludedModules,
	}
}

func (s *Toolchain) Name() string { return "toolchain" }

// resolveCatalog queries the toolchain for its package catalog once. The
// set is dynamic on purpose: the host's toolchain decides what is loadable,
// not a baked-in list.
func (s *Toolchain) resolveCatalog(ctx context.Context) (*referenceSet, error) {
	s.refsOnce.Do(func() {
		out, err := exec.CommandContext(ctx, s.goBin, "list", "std").Output()
		if err != nil {
			s.refsErr = fmt.Errorf("listing package catalog: %w", err)
			return
		}

		var keys []string
		for _, path := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			keys = append(keys, path+"/"+filepath.Base(path))
		}
		s.refs = resolveReferences(keys, s.excluded)
		log.Debug().Int("references", s.refs.Len()).Msg("Toolchain reference catalog resolved")
	})
	return s.refs, s.refsErr
}

// Run generates the scratch unit, compiles and runs it, and decodes the
// fragment's return value. The scratch directory is released on every exit
// path so a failed compile cannot leak state into the next invocation.
func (s *Toolchain) Run(ctx context.Context, source string) (interface{}, error) {
	refs, err := s.resolveCatalog(ctx)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.workRoot, scratchPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	program, headerLines := s.generate(source, refs)

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(program), 0600); err != nil {
		return nil, fmt.Errorf("writing scratch unit: %w", err)
	}
	// go.mod is the out-of-band reference file the toolchain reads instead
	// of command-line arguments.
	gomod := "module scratch\n\ngo 1.24\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(gomod), 0600); err != nil {
		return nil, fmt.Errorf("writing reference file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.goBin, "run", ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GOWORK=off", "GOFLAGS=-mod=mod")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &RuntimeError{
			Message: fmt.Sprintf("execution timed out after %s", s.timeout),
		}
	}

	if runErr != nil {
		return nil, classifyToolchainFailure(stderr.String(), headerLines, fragmentLines(source), runErr)
	}

	var payload struct {
		Value interface{} `json:"value"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("decoding fragment output: %w", err)
	}
	return payload.Value, nil
}

// generate builds the scratch program around the fragment. Imports are
// limited to references the fragment actually mentions; importing the whole
// catalog would fail the compile with unused imports. The returned header
// count maps compiler positions back onto the caller's source.
func (s *Toolchain) generate(source string, refs *referenceSet) (program string, headerLines int) {
	imports := []string{"encoding/json", "os"}
	for _, path := range referencedPackages(source, refs) {
		if path == "encoding/json" || path == "os" {
			continue
		}
		imports = append(imports, path)
	}
	sort.Strings(imports)

	var b strings.Builder
	b.WriteString("package main\n")
	b.WriteString("\n")
	b.WriteString("import (\n")
	for _, path := range imports {
		b.WriteString("\t\"" + path + "\"\n")
	}
	b.WriteString(")\n")
	b.WriteString("\n")
	b.WriteString("func " + entryPoint + "() interface{} {\n")

	// package + blank + "import (" + imports + ")" + blank + func header
	headerLines = 6 + len(imports)

	b.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("return nil\n")
	b.WriteString("}\n")
	b.WriteString("\n")
	b.WriteString("func main() {\n")
	b.WriteString("\tenc := json.NewEncoder(os.Stdout)\n")
	b.WriteString("\t_ = enc.Encode(map[string]interface{}{\"value\": " + entryPoint + "()})\n")
	b.WriteString("}\n")

	return b.String(), headerLines
}

// referencedPackages parses the fragment and keeps the references whose
// package name appears as a qualifier. Parsing failures return nothing; the
// compiler reports them with proper positions on the next step.
func referencedPackages(source string, refs *referenceSet) []string {
	wrapped := "package p\n\nfunc f() interface{} {\n" + source + "\nreturn nil\n}"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "fragment.go", wrapped, 0)
	if err != nil {
		return nil
	}

	found := make(map[string]struct{})
	ast.Inspect(file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok || ident.Obj != nil {
			return true
		}
		if path, ok := refs.paths[ident.Name]; ok {
			found[path] = struct{}{}
		}
		return true
	})

	out := make([]string, 0, len(found))
	for path := range found {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// classifyToolchainFailure splits compile rejections from fragment panics.
func classifyToolchainFailure(stderr string, headerLines, sourceLines int, runErr error) error {
	if !strings.Contains(stderr, "panic: ") && positionRe.MatchString(stderr) {
		return &CompileError{
			Diagnostics: diagnostics(stderr, headerLines, sourceLines),
		}
	}

	if idx := strings.Index(stderr, "panic: "); idx >= 0 {
		line := stderr[idx+len("panic: "):]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		return &RuntimeError{
			Message: strings.TrimSpace(line),
			Stack:   strings.TrimSpace(stderr),
		}
	}

	return fmt.Errorf("toolchain run failed: %w: %s", runErr, strings.TrimSpace(stderr))
}

package sandbox

import (
	"fmt"
	"strings"
)

// LanguageSpec defines how to compile and run one language.
// Command templates use {source}, {binary} and {dir} placeholders that are
// substituted with scratch-directory paths at run time.
type LanguageSpec struct {
	ID             string
	Name           string
	Extension      string
	SourceFile     string
	BinaryFile     string
	CompileEnabled bool
	CompileCmd     []string
	RunCmd         []string
	Env            []string
}

// Registry holds the supported language set.
type Registry struct {
	specs map[string]LanguageSpec
}

// NewRegistry creates an empty language registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]LanguageSpec)}
}

// DefaultRegistry returns the built-in language set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(LanguageSpec{
		ID:         "python",
		Name:       "Python 3",
		Extension:  ".py",
		SourceFile: "code.py",
		RunCmd:     []string{"python3", "{source}"},
	})
	r.Register(LanguageSpec{
		ID:         "javascript",
		Name:       "Node.js",
		Extension:  ".js",
		SourceFile: "code.js",
		RunCmd:     []string{"node", "{source}"},
	})
	r.Register(LanguageSpec{
		ID:             "cpp",
		Name:           "C++17",
		Extension:      ".cpp",
		SourceFile:     "code.cpp",
		BinaryFile:     "code",
		CompileEnabled: true,
		CompileCmd:     []string{"g++", "-O2", "-std=c++17", "-o", "{binary}", "{source}"},
		RunCmd:         []string{"{binary}"},
	})
	r.Register(LanguageSpec{
		ID:         "java",
		Name:       "Java",
		Extension:  ".java",
		SourceFile: "code.java",
		// Single-file source launcher, no separate compile step.
		RunCmd: []string{"java", "{source}"},
	})
	return r
}

// Register adds or replaces a language spec.
func (r *Registry) Register(spec LanguageSpec) {
	r.specs[strings.ToLower(spec.ID)] = spec
}

// Lookup returns the spec for a language ID.
func (r *Registry) Lookup(id string) (LanguageSpec, error) {
	spec, ok := r.specs[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return LanguageSpec{}, fmt.Errorf("unsupported language: %s", id)
	}
	return spec, nil
}

// Supported reports whether the language ID is registered.
func (r *Registry) Supported(id string) bool {
	_, ok := r.specs[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// IDs lists the registered language IDs.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	return ids
}

// expandArgs substitutes path placeholders in a command template.
func expandArgs(tpl []string, sourcePath, binaryPath, dir string) []string {
	args := make([]string, len(tpl))
	replacer := strings.NewReplacer(
		"{source}", sourcePath,
		"{binary}", binaryPath,
		"{dir}", dir,
	)
	for i, arg := range tpl {
		args[i] = replacer.Replace(arg)
	}
	return args
}

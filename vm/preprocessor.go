package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var defineRe = regexp.MustCompile(`^\s*#define\s+([A-Za-z_][A-Za-z0-9_]*)\s+(.+?)\s*$`)
var includeRe = regexp.MustCompile(`^\s*#include\s+["<]([^">]+)[">]\s*$`)

// Preprocessor expands #define/#include directives before lexing, grounded
// on model/preprocesador/preprocessor.py's process_text: word-boundary
// macro substitution, current-file-dir-then-libdir include resolution, and
// canonical-path cycle detection.
type Preprocessor struct {
	LibDir string
}

func NewPreprocessor(libDir string) *Preprocessor {
	return &Preprocessor{LibDir: libDir}
}

// Run preprocesses sourceText, which was read from sourceFile (used to
// resolve relative #include paths; may be "" for in-memory sources, in
// which case relative includes resolve only against LibDir).
func (p *Preprocessor) Run(sourceText, sourceFile string) (string, error) {
	defines := map[string]string{}
	included := map[string]struct{}{}
	return p.processText(sourceText, sourceFile, defines, included)
}

func (p *Preprocessor) processText(text, fromFile string, defines map[string]string, included map[string]struct{}) (string, error) {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := defineRe.FindStringSubmatch(line); m != nil {
			defines[m[1]] = m[2]
			continue
		}
		if m := includeRe.FindStringSubmatch(line); m != nil {
			expanded, err := p.expandInclude(m[1], fromFile, defines, included)
			if err != nil {
				return "", err
			}
			out = append(out, expanded)
			continue
		}
		out = append(out, substituteDefines(line, defines))
	}
	return strings.Join(out, "\n"), nil
}

func (p *Preprocessor) expandInclude(name, fromFile string, defines map[string]string, included map[string]struct{}) (string, error) {
	var path string
	if fromFile != "" {
		candidate := filepath.Join(filepath.Dir(fromFile), name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path == "" && p.LibDir != "" {
		path = filepath.Join(p.LibDir, name)
	}
	if path == "" {
		path = name
	}

	canon, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot resolve include %q: %v", ErrPreprocessor, name, err)
	}
	if _, ok := included[canon]; ok {
		return fmt.Sprintf("# %s (ya incluido)", name), nil
	}
	included[canon] = struct{}{}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read include %q: %v", ErrPreprocessor, name, err)
	}

	body, err := p.processText(string(data), path, defines, included)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("# BEGIN #include %q\n%s\n# END #include %q", name, body, name), nil
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// substituteDefines replaces whole-word occurrences of defined macro names,
// matching preprocessor.py's \b-bounded regex substitution (so NUM1 never
// matches inside NUM10).
func substituteDefines(line string, defines map[string]string) string {
	if len(defines) == 0 {
		return line
	}
	return identRe.ReplaceAllStringFunc(line, func(word string) string {
		if val, ok := defines[word]; ok {
			return val
		}
		return word
	})
}

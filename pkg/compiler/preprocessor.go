package compiler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrIncludeCycle is returned when a file includes itself, directly or not.
var ErrIncludeCycle = errors.New("circular include")

// Macro is a #define: object-like when Params is empty.
type Macro struct {
	Params []string
	Body   string
}

// Preprocessor expands #include, #define, #undef and #ifdef/#ifndef/#else/#endif.
// Directive lines are replaced with blank lines so that line numbers reported
// by the parser still match the source file.
type Preprocessor struct {
	Defines map[string]Macro

	readFile func(string) ([]byte, error)
	// included holds absolute paths already expanded once.
	included map[string]bool
}

// NewPreprocessor returns a Preprocessor that reads includes from the local filesystem.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		Defines:  make(map[string]Macro),
		readFile: os.ReadFile,
		included: make(map[string]bool),
	}
}

// NewPreprocessorFS returns a Preprocessor that resolves includes inside fsys.
func NewPreprocessorFS(fsys fs.FS) *Preprocessor {
	p := NewPreprocessor()
	p.readFile = func(name string) ([]byte, error) {
		return fs.ReadFile(fsys, filepath.ToSlash(strings.TrimPrefix(name, "/")))
	}
	return p
}

// Preprocess runs a fresh Preprocessor over src, resolving includes relative to baseDir.
func Preprocess(src string, baseDir string) (string, error) {
	return NewPreprocessor().Process(src, baseDir)
}

// Process expands src. Definitions accumulate in p.Defines across calls.
func (p *Preprocessor) Process(src, baseDir string) (string, error) {
	return p.process(src, baseDir, nil)
}

type condFrame struct {
	active   bool // this branch is emitted
	parent   bool // the enclosing branch is emitted
	sawElse  bool
	openLine int
}

func (p *Preprocessor) process(src, baseDir string, stack []string) (string, error) {
	lines := strings.Split(src, "\n")
	var out strings.Builder
	var conds []condFrame

	emitting := func() bool {
		return len(conds) == 0 || conds[len(conds)-1].active
	}

	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if i > 0 {
			out.WriteByte('\n')
		}

		if !strings.HasPrefix(trimmed, "#") {
			if emitting() {
				out.WriteString(p.expand(line, nil))
			}
			continue
		}

		directive, rest, _ := strings.Cut(strings.TrimSpace(trimmed[1:]), " ")
		rest = strings.TrimSpace(rest)

		switch directive {
		case "ifdef", "ifndef":
			_, defined := p.Defines[rest]
			on := defined == (directive == "ifdef")
			conds = append(conds, condFrame{active: emitting() && on, parent: emitting(), openLine: lineNo})
			continue
		case "else":
			if len(conds) == 0 {
				return "", fmt.Errorf("line %d: #else without #ifdef", lineNo)
			}
			top := &conds[len(conds)-1]
			if top.sawElse {
				return "", fmt.Errorf("line %d: duplicate #else", lineNo)
			}
			top.sawElse = true
			top.active = top.parent && !top.active
			continue
		case "endif":
			if len(conds) == 0 {
				return "", fmt.Errorf("line %d: #endif without #ifdef", lineNo)
			}
			conds = conds[:len(conds)-1]
			continue
		}

		if !emitting() {
			continue
		}

		switch directive {
		case "define":
			if err := p.define(rest); err != nil {
				return "", fmt.Errorf("line %d: %w", lineNo, err)
			}
		case "undef":
			delete(p.Defines, rest)
		case "include":
			text, err := p.include(rest, baseDir, stack)
			if err != nil {
				return "", fmt.Errorf("line %d: %w", lineNo, err)
			}
			out.WriteString(text)
		default:
			return "", fmt.Errorf("line %d: unknown directive #%s", lineNo, directive)
		}
	}

	if len(conds) > 0 {
		return "", fmt.Errorf("line %d: unterminated #ifdef", conds[len(conds)-1].openLine)
	}
	return out.String(), nil
}

// define parses "NAME body" or "NAME(a, b) body".
func (p *Preprocessor) define(rest string) error {
	if rest == "" {
		return errors.New("#define needs a name")
	}
	nameEnd := 0
	for nameEnd < len(rest) && isIdentPart(rune(rest[nameEnd])) {
		nameEnd++
	}
	name := rest[:nameEnd]
	if name == "" || !isIdentStart(rune(name[0])) {
		return fmt.Errorf("invalid macro name in %q", rest)
	}
	rest = rest[nameEnd:]

	var params []string
	// A parameter list must follow the name without intervening space.
	if strings.HasPrefix(rest, "(") {
		closeParen := strings.IndexByte(rest, ')')
		if closeParen < 0 {
			return fmt.Errorf("unterminated parameter list for macro %s", name)
		}
		for _, param := range strings.Split(rest[1:closeParen], ",") {
			if param = strings.TrimSpace(param); param != "" {
				params = append(params, param)
			}
		}
		rest = rest[closeParen+1:]
	}

	body := strings.TrimSpace(rest)
	if len(params) == 0 {
		body = p.expand(body, nil)
	}
	p.Defines[name] = Macro{Params: params, Body: body}
	return nil
}

func (p *Preprocessor) include(rest, baseDir string, stack []string) (string, error) {
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", fmt.Errorf("invalid include directive %q", rest)
	}
	filename := rest[1 : len(rest)-1]

	fullPath := filename
	if !filepath.IsAbs(filename) {
		fullPath = filepath.Join(baseDir, filename)
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}

	for _, open := range stack {
		if open == absPath {
			return "", fmt.Errorf("%w: %s", ErrIncludeCycle, filename)
		}
	}
	if p.included[absPath] {
		return "", nil
	}
	p.included[absPath] = true

	content, err := p.readFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("read included file %s: %w", filename, err)
	}
	text, err := p.process(string(content), filepath.Dir(fullPath), append(stack, absPath))
	if err != nil {
		return "", fmt.Errorf("%s: %w", filename, err)
	}
	// Collapse the included text onto this line so later line numbers do not shift.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return strings.Join(lines, " "), nil
}

// stripLineComment drops a trailing // comment that is not inside a literal.
func stripLineComment(line string) string {
	for i := 0; i < len(line); {
		switch {
		case line[i] == '"' || line[i] == '\'':
			i = skipLiteral(line, i)
		case strings.HasPrefix(line[i:], "//"):
			return line[:i]
		default:
			i++
		}
	}
	return line
}

// expand substitutes macros in input outside string and character literals.
// hidden names are not expanded again, which stops self-referential macros.
func (p *Preprocessor) expand(input string, hidden map[string]bool) string {
	if len(p.Defines) == 0 {
		return input
	}

	var sb strings.Builder
	n := len(input)
	for i := 0; i < n; {
		c := input[i]
		if c == '"' || c == '\'' {
			end := skipLiteral(input, i)
			sb.WriteString(input[i:end])
			i = end
			continue
		}
		if !isIdentStart(rune(c)) {
			sb.WriteByte(c)
			i++
			continue
		}

		start := i
		for i < n && isIdentPart(rune(input[i])) {
			i++
		}
		word := input[start:i]
		macro, ok := p.Defines[word]
		if !ok || hidden[word] {
			sb.WriteString(word)
			continue
		}

		inner := make(map[string]bool, len(hidden)+1)
		for k := range hidden {
			inner[k] = true
		}
		inner[word] = true

		if len(macro.Params) == 0 {
			sb.WriteString(p.expand(macro.Body, inner))
			continue
		}

		args, end, ok := splitMacroArgs(input, i)
		if !ok || len(args) != len(macro.Params) {
			sb.WriteString(word)
			continue
		}
		body := substituteParams(macro.Body, macro.Params, args)
		sb.WriteString(p.expand(body, inner))
		i = end
	}
	return sb.String()
}

// skipLiteral returns the index just past the quoted literal starting at i.
func skipLiteral(input string, i int) int {
	quote := input[i]
	i++
	for i < len(input) {
		switch input[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		}
		i++
	}
	return len(input)
}

// splitMacroArgs parses "(a, f(b, c))" starting at or after i.
func splitMacroArgs(input string, i int) ([]string, int, bool) {
	for i < len(input) && (input[i] == ' ' || input[i] == '\t') {
		i++
	}
	if i >= len(input) || input[i] != '(' {
		return nil, i, false
	}
	i++

	var args []string
	var cur strings.Builder
	depth := 1
	for ; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				args = append(args, strings.TrimSpace(cur.String()))
				return args, i + 1, true
			}
		case c == ',' && depth == 1:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return nil, i, false
}

// substituteParams replaces parameter names in body in a single pass so an
// argument is never rescanned for another parameter's name.
func substituteParams(body string, params, args []string) string {
	sub := make(map[string]string, len(params))
	for k, name := range params {
		sub[name] = args[k]
	}
	var sb strings.Builder
	n := len(body)
	for i := 0; i < n; {
		c := body[i]
		if c == '"' || c == '\'' {
			end := skipLiteral(body, i)
			sb.WriteString(body[i:end])
			i = end
			continue
		}
		if !isIdentStart(rune(c)) {
			sb.WriteByte(c)
			i++
			continue
		}
		start := i
		for i < n && isIdentPart(rune(body[i])) {
			i++
		}
		word := body[start:i]
		if arg, ok := sub[word]; ok {
			sb.WriteString(arg)
		} else {
			sb.WriteString(word)
		}
	}
	return sb.String()
}

func isIdentStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

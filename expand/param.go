package expand

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vshlang/vsh/pattern"
	"github.com/vshlang/vsh/syntax"
)

// expandParamSegments resolves a single ${...} or bare $name expansion
// to its constituent segments. Most operations produce one segment;
// a quoted "$@"/"${arr[@]}" produces several, one per array element,
// which is why this returns a slice rather than a single string. The
// unquoted and [*] forms are joined with IFS's first character into
// one segment.
func (c *Config) expandParamSegments(ctx context.Context, pe *syntax.ParamExp, quoted bool) ([]segment, error) {
	if pe.Length {
		n, err := c.paramLength(ctx, pe)
		if err != nil {
			return nil, err
		}
		return []segment{{text: strconv.Itoa(n), quoted: quoted}}, nil
	}
	if pe.Excl && pe.Op == syntax.ParExpNone {
		nameVal := c.Env.Get(pe.Name).String()
		if nameVal == "" {
			return nil, nil
		}
		vr := c.Env.Get(nameVal)
		return c.scalarOrArraySegments(ctx, nameVal, vr, pe.Index, quoted)
	}

	if isArrayAllIndex(pe.Index) {
		vr := c.readVar(pe)
		values, err := c.arrayValues(vr, isArrayKeys(pe.Index))
		if err != nil {
			return nil, err
		}
		return c.expandArrayOp(ctx, pe, values, quoted)
	}

	vr := c.readVar(pe)
	scalar, err := c.scalarValue(ctx, pe, vr)
	if err != nil {
		return nil, err
	}
	result, err := c.applyParamOp(ctx, pe, scalar, vr.Set)
	if err != nil {
		return nil, err
	}
	return []segment{{text: result, quoted: quoted}}, nil
}

func (c *Config) readVar(pe *syntax.ParamExp) Variable {
	vr := c.Env.Get(pe.Name)
	_, vr = vr.Resolve(c.Env)
	return vr
}

func isArrayAllIndex(idx *syntax.Word) bool {
	if idx == nil {
		return false
	}
	lit, ok := idx.Lit()
	return ok && (lit == "@" || lit == "*")
}

func isArrayKeys(idx *syntax.Word) bool {
	lit, _ := idx.Lit()
	return lit == "*"
}

// arrayValues returns an array-valued variable's elements in index
// order (or sorted key order for an associative array).
func (c *Config) arrayValues(vr Variable, joined bool) ([]string, error) {
	switch vr.Kind {
	case Indexed:
		return vr.List, nil
	case Associative:
		keys := make([]string, 0, len(vr.Map))
		for k := range vr.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = vr.Map[k]
		}
		return out, nil
	case String:
		if vr.Str == "" {
			return nil, nil
		}
		return []string{vr.Str}, nil
	default:
		return nil, nil
	}
}

// expandArrayOp handles "$@"/"${arr[@]}" and their "*"-joined
// siblings, including the rare case of a substitution operator
// applied to the whole array (which Bash applies element-wise).
func (c *Config) expandArrayOp(ctx context.Context, pe *syntax.ParamExp, values []string, quoted bool) ([]segment, error) {
	if pe.Op != syntax.ParExpNone {
		mapped := make([]string, len(values))
		for i, v := range values {
			r, err := c.applyParamOp(ctx, pe, v, true)
			if err != nil {
				return nil, err
			}
			mapped[i] = r
		}
		values = mapped
	}
	star := isArrayKeys(pe.Index)
	if quoted && !star {
		if len(values) == 0 {
			return nil, nil
		}
		segs := make([]segment, len(values))
		for i, v := range values {
			segs[i] = segment{text: v, quoted: true}
		}
		return segs, nil
	}
	sep := " "
	if s := c.ifs(); len(s) > 0 {
		sep = s[:1]
	}
	return []segment{{text: strings.Join(values, sep), quoted: quoted}}, nil
}

func (c *Config) scalarOrArraySegments(ctx context.Context, name string, vr Variable, idx *syntax.Word, quoted bool) ([]segment, error) {
	if isArrayAllIndex(idx) {
		values, err := c.arrayValues(vr, isArrayKeys(idx))
		if err != nil {
			return nil, err
		}
		return c.expandArrayOp(ctx, &syntax.ParamExp{Name: name, Index: idx}, values, quoted)
	}
	return []segment{{text: vr.String(), quoted: quoted}}, nil
}

func (c *Config) scalarValue(ctx context.Context, pe *syntax.ParamExp, vr Variable) (string, error) {
	if pe.Index == nil {
		return vr.String(), nil
	}
	key, err := c.Literal(ctx, pe.Index)
	if err != nil {
		return "", err
	}
	if vr.Kind == Associative {
		return vr.Map[key], nil
	}
	n, err := c.arithEvalString(ctx, key)
	if err != nil {
		return "", err
	}
	if vr.Kind != Indexed {
		if n == 0 {
			return vr.String(), nil
		}
		return "", nil
	}
	if n < 0 || int(n) >= len(vr.List) {
		return "", nil
	}
	return vr.List[n], nil
}

func (c *Config) paramLength(ctx context.Context, pe *syntax.ParamExp) (int, error) {
	if isArrayAllIndex(pe.Index) {
		vr := c.readVar(pe)
		values, _ := c.arrayValues(vr, false)
		return len(values), nil
	}
	if pe.Name == "@" || pe.Name == "*" {
		vr := c.Env.Get(pe.Name)
		values, _ := c.arrayValues(vr, false)
		return len(values), nil
	}
	vr := c.readVar(pe)
	s, err := c.scalarValue(ctx, pe, vr)
	if err != nil {
		return 0, err
	}
	return len([]rune(s)), nil
}

// applyParamOp performs the operator suffix of a ${...} expansion
// (default/assign/alt/error, substring, pattern removal, pattern
// replace, case transforms, and @-transforms) against a single
// scalar value.
func (c *Config) applyParamOp(ctx context.Context, pe *syntax.ParamExp, value string, isSet bool) (string, error) {
	empty := value == "" && !isSet
	_ = empty
	switch pe.Op {
	case syntax.ParExpNone:
		if !isSet && c.NoUnset && !isSpecialParam(pe.Name) {
			return "", UnsetParameterError{Name: pe.Name}
		}
		return value, nil

	case syntax.ParExpDefault:
		if isSet && value != "" {
			return value, nil
		}
		return c.Literal(ctx, pe.Arg)

	case syntax.ParExpAssign:
		if isSet && value != "" {
			return value, nil
		}
		def, err := c.Literal(ctx, pe.Arg)
		if err != nil {
			return "", err
		}
		if err := c.Env.Set(pe.Name, Variable{Set: true, Kind: String, Str: def}); err != nil {
			return "", err
		}
		return def, nil

	case syntax.ParExpPlus:
		if !isSet || value == "" {
			return "", nil
		}
		return c.Literal(ctx, pe.Arg)

	case syntax.ParExpError:
		if isSet && value != "" {
			return value, nil
		}
		msg, _ := c.Literal(ctx, pe.Arg)
		if msg == "" {
			msg = "parameter null or not set"
		}
		return "", BadSubstitutionError{Msg: fmt.Sprintf("%s: %s", pe.Name, msg)}

	case syntax.ParExpSlice:
		return c.paramSlice(ctx, pe, value)

	case syntax.ParExpRemSmallPrefix, syntax.ParExpRemLargePrefix,
		syntax.ParExpRemSmallSuffix, syntax.ParExpRemLargeSuffix:
		return c.paramTrim(ctx, pe, value)

	case syntax.ParExpReplace, syntax.ParExpReplaceAll,
		syntax.ParExpReplacePrefix, syntax.ParExpReplaceSuffix:
		return c.paramReplace(ctx, pe, value)

	case syntax.ParExpUpperFirst:
		return caseTransform(value, true, true), nil
	case syntax.ParExpUpperAll:
		return caseTransform(value, true, false), nil
	case syntax.ParExpLowerFirst:
		return caseTransform(value, false, true), nil
	case syntax.ParExpLowerAll:
		return caseTransform(value, false, false), nil

	case syntax.ParExpTransform:
		return c.paramTransform(ctx, pe, value)

	default:
		return value, nil
	}
}

func isSpecialParam(name string) bool {
	switch name {
	case "@", "*", "#", "?", "$", "!", "-", "0":
		return true
	}
	return false
}

func (c *Config) paramSlice(ctx context.Context, pe *syntax.ParamExp, value string) (string, error) {
	offLit, err := c.Literal(ctx, pe.Arg)
	if err != nil {
		return "", err
	}
	off, err := c.arithEvalString(ctx, offLit)
	if err != nil {
		return "", err
	}
	runes := []rune(value)
	n := int64(len(runes))
	if off < 0 {
		off += n
		if off < 0 {
			off = 0
		}
	}
	if off > n {
		off = n
	}
	if pe.Arg2 == nil {
		return string(runes[off:]), nil
	}
	lenLit, err := c.Literal(ctx, pe.Arg2)
	if err != nil {
		return "", err
	}
	length, err := c.arithEvalString(ctx, lenLit)
	if err != nil {
		return "", err
	}
	end := off + length
	if length < 0 {
		end = n + length
	}
	if end < off {
		end = off
	}
	if end > n {
		end = n
	}
	return string(runes[off:end]), nil
}

func (c *Config) paramTrim(ctx context.Context, pe *syntax.ParamExp, value string) (string, error) {
	pat, err := c.Pattern(ctx, pe.Arg)
	if err != nil {
		return "", err
	}
	if pat == "" {
		return value, nil
	}
	long := pe.Op == syntax.ParExpRemLargePrefix || pe.Op == syntax.ParExpRemLargeSuffix
	suffix := pe.Op == syntax.ParExpRemSmallSuffix || pe.Op == syntax.ParExpRemLargeSuffix
	mode := pattern.Mode(0)
	if c.NoCaseGlob {
		mode |= pattern.NoGlobCase
	}
	anchor := "^"
	if suffix {
		anchor = "$"
	}
	reSrc, err := pattern.Regexp(pat, mode)
	if err != nil {
		return "", err
	}
	greedy := "?"
	if long {
		greedy = ""
	}
	var full string
	if suffix {
		full = "(?:" + reSrc + ")" + greedy + anchor
	} else {
		full = anchor + "(?:" + reSrc + ")" + greedy
	}
	re, err := regexp.Compile(full)
	if err != nil {
		return "", err
	}
	loc := re.FindStringIndex(value)
	if loc == nil {
		return value, nil
	}
	return value[:loc[0]] + value[loc[1]:], nil
}

func (c *Config) paramReplace(ctx context.Context, pe *syntax.ParamExp, value string) (string, error) {
	pat, err := c.Pattern(ctx, pe.Arg)
	if err != nil {
		return "", err
	}
	repl, err := c.Literal(ctx, pe.Arg2)
	if err != nil {
		return "", err
	}
	if pat == "" {
		return value, nil
	}
	mode := pattern.Mode(0)
	if c.NoCaseGlob {
		mode |= pattern.NoGlobCase
	}
	reSrc, err := pattern.Regexp(pat, mode)
	if err != nil {
		return "", err
	}
	switch pe.Op {
	case syntax.ParExpReplacePrefix:
		reSrc = "^(?:" + reSrc + ")"
	case syntax.ParExpReplaceSuffix:
		reSrc = "(?:" + reSrc + ")$"
	}
	re, err := regexp.Compile(reSrc)
	if err != nil {
		return "", err
	}
	goRepl := strings.ReplaceAll(repl, "$", "$$")
	if pe.Op == syntax.ParExpReplaceAll {
		return re.ReplaceAllString(value, goRepl), nil
	}
	loc := re.FindStringIndex(value)
	if loc == nil {
		return value, nil
	}
	return value[:loc[0]] + re.ReplaceAllString(value[loc[0]:loc[1]], goRepl) + value[loc[1]:], nil
}

var caser = struct {
	upper cases.Caser
	lower cases.Caser
	title cases.Caser
}{
	upper: cases.Upper(language.Und),
	lower: cases.Lower(language.Und),
	title: cases.Title(language.Und),
}

func caseTransform(s string, upper, firstOnly bool) string {
	if s == "" {
		return s
	}
	if !firstOnly {
		if upper {
			return caser.upper.String(s)
		}
		return caser.lower.String(s)
	}
	runes := []rune(s)
	first := string(runes[0])
	if upper {
		first = caser.upper.String(first)
	} else {
		first = caser.lower.String(first)
	}
	return first + string(runes[1:])
}

func (c *Config) paramTransform(ctx context.Context, pe *syntax.ParamExp, value string) (string, error) {
	op, err := c.Literal(ctx, pe.Arg)
	if err != nil {
		return "", err
	}
	switch op {
	case "Q":
		return quoteShellWord(value), nil
	case "E":
		return ExpandFormat(value), nil
	case "U":
		return caser.upper.String(value), nil
	case "L":
		return caser.lower.String(value), nil
	case "u":
		return caseTransform(value, true, true), nil
	default:
		return value, nil
	}
}

func quoteShellWord(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_./-", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ExpandFormat processes backslash escapes for printf %b and similar
// callers: the common \n \t \r \\ \' \" \a \b \e \f \v set plus \xHH.
// Octal, \u and \U escapes are not decoded. ($'...' strings are
// decoded by the lexer, not here.)
func ExpandFormat(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'e', 'E':
			sb.WriteByte(0x1b)
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '\\':
			sb.WriteByte('\\')
		case '\'':
			sb.WriteByte('\'')
		case '"':
			sb.WriteByte('"')
		case 'x':
			j := i + 1
			for j < len(s) && j < i+3 && isHex(s[j]) {
				j++
			}
			if j > i+1 {
				n, _ := strconv.ParseInt(s[i+1:j], 16, 32)
				sb.WriteRune(rune(n))
				i = j - 1
			} else {
				sb.WriteByte('x')
			}
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

package expand

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vshlang/vsh/syntax"
)

// Arithm evaluates an arithmetic expression tree, reading and writing
// variables through c.Env. It mirrors Bash's $(( )), (( )), and
// for ((;;)) semantics: C-style operator precedence, 64-bit signed
// wraparound on overflow, and string operands that look numeric get
// parsed rather than rejected.
func (c *Config) Arithm(ctx context.Context, expr syntax.ArithmExpr) (int64, error) {
	return c.arithEval(ctx, expr)
}

func (c *Config) arithEval(ctx context.Context, expr syntax.ArithmExpr) (int64, error) {
	switch x := expr.(type) {
	case nil:
		return 0, nil
	case *syntax.ArithmNum:
		return parseArithNum(x.Lit)
	case *syntax.ArithmParen:
		return c.arithEval(ctx, x.X)
	case *syntax.ArithmWord:
		s, err := c.Literal(ctx, x.X)
		if err != nil {
			return 0, err
		}
		return c.arithEvalString(ctx, s)
	case *syntax.ArithmVar:
		return c.arithReadVar(ctx, x)
	case *syntax.UnaryArithm:
		return c.arithUnary(ctx, x)
	case *syntax.BinaryArithm:
		return c.arithBinary(ctx, x)
	case *syntax.TernaryArithm:
		cond, err := c.arithEval(ctx, x.Cond)
		if err != nil {
			return 0, err
		}
		if cond != 0 {
			return c.arithEval(ctx, x.Then)
		}
		return c.arithEval(ctx, x.Else)
	case *syntax.ArithmAssign:
		return c.arithAssign(ctx, x)
	default:
		return 0, fmt.Errorf("expand: unhandled arithmetic node %T", expr)
	}
}

// arithEvalString re-parses a fully-expanded word as arithmetic, the
// path a bare variable's string value or a nested $((...)) takes.
func (c *Config) arithEvalString(ctx context.Context, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	x, err := syntax.ParseArithmetic(s)
	if err != nil {
		return parseArithNum(s)
	}
	return c.arithEval(ctx, x)
}

func parseArithNum(lit string) (int64, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(lit, "-") {
		neg = true
		lit = lit[1:]
	} else if strings.HasPrefix(lit, "+") {
		lit = lit[1:]
	}
	var n uint64
	var err error
	switch {
	case strings.Contains(lit, "#"):
		parts := strings.SplitN(lit, "#", 2)
		base, berr := strconv.Atoi(parts[0])
		if berr != nil || base < 2 || base > 64 {
			return 0, fmt.Errorf("expand: invalid arithmetic base %q", parts[0])
		}
		n, err = strconv.ParseUint(parts[1], base, 64)
	case strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X"):
		n, err = strconv.ParseUint(lit[2:], 16, 64)
	case strings.HasPrefix(lit, "0") && len(lit) > 1:
		n, err = strconv.ParseUint(lit[1:], 8, 64)
	default:
		n, err = strconv.ParseUint(lit, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("expand: invalid arithmetic constant %q", lit)
	}
	v := int64(n)
	if neg {
		v = -v
	}
	return v, nil
}

func (c *Config) arithReadVar(ctx context.Context, v *syntax.ArithmVar) (int64, error) {
	vr := c.Env.Get(v.Name)
	_, vr = vr.Resolve(c.Env)
	if v.Index == nil {
		switch vr.Kind {
		case Indexed:
			if len(vr.List) > 0 {
				return parseArithNum(vr.List[0])
			}
			return 0, nil
		case Associative:
			return 0, nil
		default:
			return c.arithEvalString(ctx, vr.Str)
		}
	}
	idx, err := c.arithEval(ctx, v.Index)
	if err != nil {
		return 0, err
	}
	switch vr.Kind {
	case Indexed:
		if idx < 0 || int(idx) >= len(vr.List) {
			return 0, nil
		}
		return parseArithNum(vr.List[idx])
	case Associative:
		s := strconv.FormatInt(idx, 10)
		return parseArithNum(vr.Map[s])
	default:
		if idx == 0 {
			return c.arithEvalString(ctx, vr.Str)
		}
		return 0, nil
	}
}

func (c *Config) arithWriteVar(v *syntax.ArithmVar, ctx context.Context, val int64) error {
	s := strconv.FormatInt(val, 10)
	if v.Index == nil {
		return c.Env.Set(v.Name, Variable{Set: true, Kind: String, Str: s})
	}
	idx, err := c.arithEval(ctx, v.Index)
	if err != nil {
		return err
	}
	vr := c.Env.Get(v.Name)
	switch vr.Kind {
	case Associative:
		m := vr.Map
		if m == nil {
			m = map[string]string{}
		}
		m[strconv.FormatInt(idx, 10)] = s
		vr.Map = m
		vr.Set = true
		vr.Kind = Associative
		return c.Env.Set(v.Name, vr)
	default:
		list := append([]string(nil), vr.List...)
		for int64(len(list)) <= idx {
			list = append(list, "")
		}
		list[idx] = s
		return c.Env.Set(v.Name, Variable{Set: true, Kind: Indexed, List: list})
	}
}

func (c *Config) arithUnary(ctx context.Context, u *syntax.UnaryArithm) (int64, error) {
	if u.Op == "++" || u.Op == "--" {
		v, ok := u.X.(*syntax.ArithmVar)
		if !ok {
			return 0, fmt.Errorf("expand: %s requires a variable operand", u.Op)
		}
		cur, err := c.arithReadVar(ctx, v)
		if err != nil {
			return 0, err
		}
		next := cur + 1
		if u.Op == "--" {
			next = cur - 1
		}
		if err := c.arithWriteVar(v, ctx, next); err != nil {
			return 0, err
		}
		if u.Post {
			return cur, nil
		}
		return next, nil
	}
	x, err := c.arithEval(ctx, u.X)
	if err != nil {
		return 0, err
	}
	switch u.Op {
	case "+":
		return x, nil
	case "-":
		return -x, nil
	case "!":
		if x == 0 {
			return 1, nil
		}
		return 0, nil
	case "~":
		return ^x, nil
	default:
		return 0, fmt.Errorf("expand: unknown unary arithmetic operator %q", u.Op)
	}
}

func (c *Config) arithBinary(ctx context.Context, b *syntax.BinaryArithm) (int64, error) {
	if b.Op == "," {
		if _, err := c.arithEval(ctx, b.X); err != nil {
			return 0, err
		}
		return c.arithEval(ctx, b.Y)
	}
	if b.Op == "&&" {
		x, err := c.arithEval(ctx, b.X)
		if err != nil {
			return 0, err
		}
		if x == 0 {
			return 0, nil
		}
		y, err := c.arithEval(ctx, b.Y)
		if err != nil {
			return 0, err
		}
		return boolInt(y != 0), nil
	}
	if b.Op == "||" {
		x, err := c.arithEval(ctx, b.X)
		if err != nil {
			return 0, err
		}
		if x != 0 {
			return 1, nil
		}
		y, err := c.arithEval(ctx, b.Y)
		if err != nil {
			return 0, err
		}
		return boolInt(y != 0), nil
	}

	x, err := c.arithEval(ctx, b.X)
	if err != nil {
		return 0, err
	}
	y, err := c.arithEval(ctx, b.Y)
	if err != nil {
		return 0, err
	}
	switch b.Op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return 0, fmt.Errorf("expand: division by zero")
		}
		return x / y, nil
	case "%":
		if y == 0 {
			return 0, fmt.Errorf("expand: division by zero")
		}
		return x % y, nil
	case "**":
		if y < 0 {
			return 0, fmt.Errorf("expand: negative exponent")
		}
		return intPow(x, y), nil
	case "<<":
		return x << uint(y), nil
	case ">>":
		return x >> uint(y), nil
	case "&":
		return x & y, nil
	case "|":
		return x | y, nil
	case "^":
		return x ^ y, nil
	case "<":
		return boolInt(x < y), nil
	case "<=":
		return boolInt(x <= y), nil
	case ">":
		return boolInt(x > y), nil
	case ">=":
		return boolInt(x >= y), nil
	case "==":
		return boolInt(x == y), nil
	case "!=":
		return boolInt(x != y), nil
	default:
		return 0, fmt.Errorf("expand: unknown binary arithmetic operator %q", b.Op)
	}
}

func (c *Config) arithAssign(ctx context.Context, a *syntax.ArithmAssign) (int64, error) {
	v, ok := a.X.(*syntax.ArithmVar)
	if !ok {
		return 0, fmt.Errorf("expand: assignment target must be a variable")
	}
	rhs, err := c.arithEval(ctx, a.Y)
	if err != nil {
		return 0, err
	}
	if a.Op == "=" {
		if err := c.arithWriteVar(v, ctx, rhs); err != nil {
			return 0, err
		}
		return rhs, nil
	}
	cur, err := c.arithReadVar(ctx, v)
	if err != nil {
		return 0, err
	}
	op := strings.TrimSuffix(a.Op, "=")
	res, err := c.arithBinary(ctx, &syntax.BinaryArithm{Op: op, X: &syntax.ArithmNum{Lit: strconv.FormatInt(cur, 10)}, Y: &syntax.ArithmNum{Lit: strconv.FormatInt(rhs, 10)}})
	if err != nil {
		return 0, err
	}
	if err := c.arithWriteVar(v, ctx, res); err != nil {
		return 0, err
	}
	return res, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func intPow(base, exp int64) int64 {
	var result int64 = 1
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

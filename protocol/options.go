package protocol

import (
	"fmt"
	"strings"
)

// EnvKind selects the environment an expression is evaluated in.
type EnvKind int

const (
	EnvGlobal EnvKind = iota
	EnvBase
	EnvEmpty
)

func (k EnvKind) String() string {
	switch k {
	case EnvGlobal:
		return "global"
	case EnvBase:
		return "base"
	case EnvEmpty:
		return "empty"
	default:
		return fmt.Sprintf("EnvKind(%d)", int(k))
	}
}

// EvalOptions is the structured form of the single-character flags appended
// to an evaluation request name after the "?=" prefix.
type EvalOptions struct {
	Env        EnvKind
	NewEnv     bool // evaluate in a fresh child environment
	Reentrant  bool // permit nested evaluation while this one runs
	Cancelable bool
	NoResult   bool // suppress the result payload
	RawResult  bool // return the result as a blob instead of JSON
}

// ParseEvalOptions parses the flag suffix of an evaluation request name.
//
// Flags: 'B' base environment, 'E' empty environment (default is global),
// 'N' fresh child environment, '@' reentrant, '/' cancelable, '0' suppress
// result, 'r' raw result.
func ParseEvalOptions(name string) (EvalOptions, error) {
	if !strings.HasPrefix(name, "?=") {
		return EvalOptions{}, fmt.Errorf("protocol: %q is not an evaluation request name", name)
	}

	var opts EvalOptions
	envSet := false
	for _, c := range name[2:] {
		switch c {
		case 'B', 'E':
			if envSet {
				return EvalOptions{}, fmt.Errorf("protocol: %q: multiple environment flags specified", name)
			}
			if c == 'B' {
				opts.Env = EnvBase
			} else {
				opts.Env = EnvEmpty
			}
			envSet = true
		case 'N':
			opts.NewEnv = true
		case '@':
			opts.Reentrant = true
		case '/':
			opts.Cancelable = true
		case '0':
			opts.NoResult = true
		case 'r':
			opts.RawResult = true
		default:
			return EvalOptions{}, fmt.Errorf("protocol: %q: unrecognized flag %q", name, c)
		}
	}
	return opts, nil
}

// Name renders the options back into an evaluation request name.
func (o EvalOptions) Name() string {
	var b strings.Builder
	b.WriteString("?=")
	switch o.Env {
	case EnvBase:
		b.WriteByte('B')
	case EnvEmpty:
		b.WriteByte('E')
	}
	if o.NewEnv {
		b.WriteByte('N')
	}
	if o.Reentrant {
		b.WriteByte('@')
	}
	if o.Cancelable {
		b.WriteByte('/')
	}
	if o.NoResult {
		b.WriteByte('0')
	}
	if o.RawResult {
		b.WriteByte('r')
	}
	return b.String()
}

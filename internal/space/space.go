// Package space compiles a config.StudyDefinition into a Search
// Space: a set of Decision Variables connected by an acyclic guard
// DAG. The compiled Search Space is read-only; callers (the optimizer
// façade and the candidate materializer) never mutate it.
package space

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/scttfrdmn/scout/internal/config"
)

// InactiveValue is the sentinel an Assignment carries for a guarded
// variable whose guard evaluated false.
const InactiveValue = "inactive"

// Kind classifies a Decision Variable.
type Kind string

const (
	KindChoice   Kind = "choice"
	KindToggle   Kind = "toggle"
	KindParam    Kind = "param"
	KindEnv      Kind = "env"
	KindEnvParam Kind = "env-param"
)

// Guard is a predicate over a previously-assigned variable's value.
type Guard struct {
	Var   string
	Value string
}

// numericTail matches the maximal trailing run of ASCII digits in a
// domain value string, e.g. "-O3" -> "3".
var numericTail = regexp.MustCompile(`[0-9]+$`)

// tierOf extracts the numeric optimization tier implied by a domain
// value. A value with no numeric suffix (e.g. "-Ofast") is treated as
// the highest possible tier: it implies at least as much optimization
// as any numbered -ON level. See DESIGN.md Open Question 1.
func tierOf(value string) int {
	m := numericTail.FindString(value)
	if m == "" {
		return math.MaxInt32
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return math.MaxInt32
	}
	return n
}

// Satisfied evaluates the guard against the assignment accumulated so
// far. An unassigned or inactive referenced variable never satisfies
// a guard.
func (g Guard) Satisfied(prior Assignment) bool {
	got, ok := prior[g.Var]
	if !ok || got == InactiveValue {
		return false
	}
	if strings.HasSuffix(g.Value, "+") {
		n, err := strconv.Atoi(strings.TrimSuffix(g.Value, "+"))
		if err != nil {
			return false
		}
		return tierOf(got) >= n
	}
	return got == g.Value
}

// Variable is one dimension of the search space.
type Variable struct {
	Name   string
	Kind   Kind
	Domain []string
	Guard  *Guard // nil for unguarded variables
}

// Active reports whether v's guard is satisfied (or it has none).
func (v Variable) Active(prior Assignment) bool {
	return v.Guard == nil || v.Guard.Satisfied(prior)
}

// Assignment is a total function from declared decision names to
// chosen values. Guarded variables whose guard is false carry
// InactiveValue.
type Assignment map[string]string

// Clone returns a shallow copy safe for independent mutation.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Space is the compiled, read-only Search Space: Decision Variables in
// guard-respecting topological order.
type Space struct {
	Order     []string // variable names, guard-evaluation order
	Variables map[string]Variable
}

// Variable looks up a Decision Variable by name.
func (s *Space) Variable(name string) (Variable, bool) {
	v, ok := s.Variables[name]
	return v, ok
}

// Compile builds the Search Space from a Study Definition, rejecting
// malformed guards, cyclic guard dependencies, duplicate variable
// names, and empty domains.
func Compile(def *config.StudyDefinition) (*Space, error) {
	var vars []Variable
	declIndex := map[string]int{}

	addVar := func(v Variable) error {
		if _, dup := declIndex[v.Name]; dup {
			return fmt.Errorf("config_error: duplicate decision variable %q", v.Name)
		}
		if len(v.Domain) == 0 {
			return fmt.Errorf("config_error: decision variable %q has an empty domain", v.Name)
		}
		declIndex[v.Name] = len(vars)
		vars = append(vars, v)
		return nil
	}

	for _, slot := range def.CompilerFlags {
		if err := addVar(Variable{Name: slot.Name, Kind: KindChoice, Domain: append([]string(nil), slot.Values...)}); err != nil {
			return nil, err
		}
	}
	for _, flag := range def.CompilerFlagPool {
		if err := addVar(Variable{Name: flag, Kind: KindToggle, Domain: []string{"on", "off"}}); err != nil {
			return nil, err
		}
	}
	for _, p := range def.CompilerParams {
		v, err := declToVariable(p, KindParam)
		if err != nil {
			return nil, err
		}
		if err := addVar(v); err != nil {
			return nil, err
		}
	}
	for _, e := range def.Env {
		kind := KindEnv
		if e.When != nil {
			kind = KindEnvParam
		}
		v, err := declToVariable(e, kind)
		if err != nil {
			return nil, err
		}
		if err := addVar(v); err != nil {
			return nil, err
		}
	}

	g := simple.NewDirectedGraph()
	ids := make(map[string]int64, len(vars))
	for i, v := range vars {
		id := int64(i)
		ids[v.Name] = id
		g.AddNode(simple.Node(id))
	}
	for _, v := range vars {
		if v.Guard == nil {
			continue
		}
		fromIdx, ok := declIndex[v.Guard.Var]
		if !ok {
			return nil, fmt.Errorf("config_error: variable %q guards on unknown variable %q", v.Name, v.Guard.Var)
		}
		if fromIdx >= declIndex[v.Name] {
			return nil, fmt.Errorf("config_error: variable %q guards on %q, which is not declared earlier", v.Name, v.Guard.Var)
		}
		g.SetEdge(g.NewEdge(simple.Node(ids[v.Guard.Var]), simple.Node(ids[v.Name])))
	}

	order, err := topo.Sort(g)
	if err != nil {
		if _, ok := err.(topo.Unorderable); ok {
			return nil, fmt.Errorf("config_error: cyclic guard dependency: %w", err)
		}
		return nil, fmt.Errorf("config_error: cannot order decision variables: %w", err)
	}

	sp := &Space{
		Order:     make([]string, 0, len(order)),
		Variables: make(map[string]Variable, len(vars)),
	}
	nameByID := make(map[int64]string, len(vars))
	for name, id := range ids {
		nameByID[id] = name
	}
	for _, n := range order {
		name := nameByID[n.ID()]
		sp.Order = append(sp.Order, name)
	}
	for _, v := range vars {
		sp.Variables[v.Name] = v
	}
	return sp, nil
}

func declToVariable(p config.ParamDecl, kind Kind) (Variable, error) {
	var guard *Guard
	if p.When != nil {
		guard = &Guard{Var: p.When.Var, Value: p.When.Value}
	}
	domain := make([]string, 0, len(p.Values))
	for _, raw := range p.Values {
		domain = append(domain, stringifyValue(raw))
	}
	return Variable{Name: p.Name, Kind: kind, Domain: domain, Guard: guard}, nil
}

func stringifyValue(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

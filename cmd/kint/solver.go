package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/kint"
	"github.com/benbjohnson/kint/gini"
)

// DefaultSolver is the solver used when none is configured.
const DefaultSolver = "gini"

// solverFunc returns a solver and a function releasing its resources.
type solverFunc func(c *Config) (kint.Solver, func() error, error)

// solvers holds the available backends by name.
var solvers = map[string]solverFunc{
	"gini": func(c *Config) (kint.Solver, func() error, error) {
		timeout, err := c.TimeoutDuration()
		if err != nil {
			return nil, nil, err
		}
		s := gini.NewSolver()
		s.Timeout = timeout
		return s, func() error { return nil }, nil
	},
}

// newSolver returns the solver named by the configuration.
func newSolver(c *Config) (kint.Solver, func() error, error) {
	fn, ok := solvers[c.Solver]
	if !ok {
		names := make([]string, 0, len(solvers))
		for name := range solvers {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, nil, fmt.Errorf("unknown solver %q, expected one of: %s", c.Solver, strings.Join(names, ", "))
	}
	return fn(c)
}

//go:build z3

package main

import (
	"github.com/benbjohnson/kint"
	"github.com/benbjohnson/kint/z3"
)

func init() {
	solvers["z3"] = func(c *Config) (kint.Solver, func() error, error) {
		timeout, err := c.TimeoutDuration()
		if err != nil {
			return nil, nil, err
		}
		s := z3.NewSolver()
		s.Timeout = timeout
		return s, s.Close, nil
	}
}

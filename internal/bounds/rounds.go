package bounds

import (
	"context"
	"fmt"
)

// DefaultRounds is the fixed round count used by the constant strategy.
const DefaultRounds = 250

// RoundCounter decides how many rounds a match has.
type RoundCounter interface {
	Rounds(ctx context.Context, match int) int
}

// Constant reports the same round count for every match without any request.
type Constant int

func (c Constant) Rounds(context.Context, int) int {
	return int(c)
}

// Search discovers the round count of each match with the two-phase search
// used for match IDs, scoped to the match's round axis.
type Search struct {
	Prober  Prober
	BaseURL string
	Step    int
}

func (s Search) Rounds(ctx context.Context, match int) int {
	return FindUpperBound(ctx, RoundProbe(s.Prober, s.BaseURL, match), s.Step)
}

// Strategy names accepted by NewRoundCounter.
const (
	StrategySearch   = "search"
	StrategyConstant = "constant"
)

// NewRoundCounter builds the counter named by strategy.
func NewRoundCounter(strategy string, p Prober, baseURL string, step, constant int) (RoundCounter, error) {
	switch strategy {
	case StrategySearch, "":
		return Search{Prober: p, BaseURL: baseURL, Step: step}, nil
	case StrategyConstant:
		if constant <= 0 {
			constant = DefaultRounds
		}

		return Constant(constant), nil
	}

	return nil, fmt.Errorf("unknown round strategy %q", strategy)
}

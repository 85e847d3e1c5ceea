// Package classify applies leak heuristics to scanned PTY records.
//
// Classification is a pure function of its inputs: same records and rules in,
// same result out, no OS access. Rules are explicit structs evaluated in
// priority order, with the first match winning per process.
package classify

import (
	"fmt"
	"regexp"
	"sort"

	"ptywatch/internal/scan"
)

// Thresholds are the strictly-greater-than PTY count boundaries.
type Thresholds struct {
	// Heavy marks a process as a heavy user when exceeded, and gates rule 1.
	Heavy int
	// Runtime gates rule 2 (high-fanout runtimes like node dev servers).
	Runtime int
	// Generic gates rule 3 (any command).
	Generic int
}

// DefaultThresholds returns the stock 4/8/10 boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Heavy: 4, Runtime: 8, Generic: 10}
}

// Rule is one leak heuristic. Pattern == nil matches every command.
type Rule struct {
	Name      string
	Pattern   *regexp.Regexp
	Threshold int
	// Reason is the annotation attached to matches, e.g.
	// "agent-like process with >4 PTYs".
	Reason string
	// Strength orders rules for the ranker: higher is a stronger signal.
	Strength int
}

// matches reports whether the rule fires for a record.
func (r Rule) matches(rec scan.ProcessRecord) bool {
	if rec.PTYCount() <= r.Threshold {
		return false
	}
	if r.Pattern != nil && !r.Pattern.MatchString(rec.Command) {
		return false
	}
	return true
}

// Leak is a heavy user that matched a leak rule.
type Leak struct {
	Record scan.ProcessRecord
	// Rule names the heuristic that fired.
	Rule string
	// Strength is the matched rule's strength (3 = agent, 2 = runtime,
	// 1 = generic).
	Strength int
	// Reason is always non-empty for a Leak.
	Reason string
}

// Result is the classification of one scan.
// SuspectedLeaks is always a subset of HeavyUsers.
type Result struct {
	HeavyUsers     []scan.ProcessRecord
	SuspectedLeaks []Leak
}

// Classifier holds compiled rules and the heavy-user boundary.
type Classifier struct {
	heavy int
	rules []Rule
}

// New compiles a classifier from thresholds and command patterns.
// Invalid patterns are a configuration error, reported at construction so
// the scan loop never sees them.
func New(t Thresholds, agentPattern, runtimePattern string) (*Classifier, error) {
	agentRe, err := regexp.Compile(agentPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling agent pattern: %w", err)
	}
	runtimeRe, err := regexp.Compile(runtimePattern)
	if err != nil {
		return nil, fmt.Errorf("compiling runtime pattern: %w", err)
	}

	return &Classifier{
		heavy: t.Heavy,
		rules: []Rule{
			{
				Name:      "agent",
				Pattern:   agentRe,
				Threshold: t.Heavy,
				Reason:    fmt.Sprintf("agent-like process with >%d PTYs", t.Heavy),
				Strength:  3,
			},
			{
				Name:      "runtime",
				Pattern:   runtimeRe,
				Threshold: t.Runtime,
				Reason:    fmt.Sprintf("high-fanout runtime with >%d PTYs", t.Runtime),
				Strength:  2,
			},
			{
				Name:      "generic",
				Pattern:   nil,
				Threshold: t.Generic,
				Reason:    fmt.Sprintf("generic process with >%d PTYs", t.Generic),
				Strength:  1,
			},
		},
	}, nil
}

// Rules exposes the compiled rule list in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify partitions records into heavy users and suspected leaks.
// Deterministic: output ordering follows PID regardless of input order.
func (c *Classifier) Classify(records []scan.ProcessRecord) Result {
	sorted := make([]scan.ProcessRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PID < sorted[j].PID })

	var result Result
	for _, rec := range sorted {
		heavy := rec.PTYCount() > c.heavy
		if heavy {
			result.HeavyUsers = append(result.HeavyUsers, rec)
		}

		for _, rule := range c.rules {
			if !rule.matches(rec) {
				continue
			}
			// Leaks below the heavy boundary can't happen with stock
			// thresholds, but a misconfigured generic threshold could
			// produce one; enforce the subset invariant regardless.
			if !heavy {
				break
			}
			result.SuspectedLeaks = append(result.SuspectedLeaks, Leak{
				Record:   rec,
				Rule:     rule.Name,
				Strength: rule.Strength,
				Reason:   rule.Reason,
			})
			break // first matching rule wins
		}
	}
	return result
}

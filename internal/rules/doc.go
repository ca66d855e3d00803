// Package rules holds the vital-sign alert rules and the policies that group
// them. Every rule is a pure function over a window of readings; a Policy
// evaluates all of its rules and ORs them into a single Verdict.
package rules

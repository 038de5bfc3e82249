package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// FlagEnum is a pflag.Value restricted to a fixed set of strings.
type FlagEnum struct {
	Allowed []string
	Value   string
}

func NewEnum(allowed []string, d string) *FlagEnum {
	return &FlagEnum{Allowed: allowed, Value: d}
}

func (a FlagEnum) String() string { return a.Value }

func (a *FlagEnum) Set(p string) error {
	if !slices.Contains(a.Allowed, p) {
		return fmt.Errorf("invalid value %q, must be one of %v", p, a.Allowed)
	}
	a.Value = p
	return nil
}

func (a *FlagEnum) Type() string { return "string" }

// CompleteValues returns a shell completion function offering values.
func CompleteValues(values ...string) cobra.CompletionFunc {
	return cobra.FixedCompletions(values, cobra.ShellCompDirectiveNoFileComp)
}

// RegisterEnumCompletion offers the allowed values of the enum flag name.
func RegisterEnumCompletion(c *cobra.Command, name string, enum *FlagEnum) error {
	return c.RegisterFlagCompletionFunc(name, CompleteValues(enum.Allowed...))
}

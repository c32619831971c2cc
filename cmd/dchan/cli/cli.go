// Package cli is a small subcommand framework built on the flag package.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ErrUsage is returned when arguments do not satisfy a command.
var ErrUsage = errors.New("usage error")

// PositionalArgs validates the arguments left after flag parsing.
type PositionalArgs func(args []string) error

// MinArgs requires at least n arguments.
func MinArgs(n int) PositionalArgs {
	return func(args []string) error {
		if len(args) < n {
			return fmt.Errorf("%w: requires at least %d arg(s), received %d", ErrUsage, n, len(args))
		}
		return nil
	}
}

// MaxArgs allows at most n arguments.
func MaxArgs(n int) PositionalArgs {
	return func(args []string) error {
		if len(args) > n {
			return fmt.Errorf("%w: accepts at most %d arg(s), received %d", ErrUsage, n, len(args))
		}
		return nil
	}
}

// ExactArgs requires exactly n arguments.
func ExactArgs(n int) PositionalArgs {
	return func(args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: accepts %d arg(s), received %d", ErrUsage, n, len(args))
		}
		return nil
	}
}

// Command is a node in a command tree.
type Command struct {
	// Usage is the one line usage message. The first word is the name.
	Usage string
	Short string
	Long  string

	Args PositionalArgs
	Run  func(ctx context.Context, args []string)

	flags    *flag.FlagSet
	commands []*Command
	parent   *Command
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// Flags returns the command's flag set, creating it on first use.
func (c *Command) Flags() *flag.FlagSet {
	if c.flags == nil {
		c.flags = flag.NewFlagSet(c.Name(), flag.ContinueOnError)
		c.flags.SetOutput(io.Discard)
	}
	return c.flags
}

// AddCommand adds sub as a subcommand.
func (c *Command) AddCommand(sub *Command) {
	sub.parent = c
	c.commands = append(c.commands, sub)
}

func (c *Command) find(name string) *Command {
	for _, sub := range c.commands {
		if sub.Name() == name {
			return sub
		}
	}
	return nil
}

func (c *Command) path() string {
	if c.parent == nil {
		return c.Name()
	}
	return c.parent.path() + " " + c.Name()
}

// PrintHelp writes usage information to w.
func (c *Command) PrintHelp(w io.Writer) {
	if c.Long != "" {
		fmt.Fprintf(w, "%s\n\n", c.Long)
	} else if c.Short != "" {
		fmt.Fprintf(w, "%s\n\n", c.Short)
	}
	usage := c.Usage
	if c.parent != nil {
		usage = c.parent.path() + " " + usage
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.commands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		subs := append([]*Command(nil), c.commands...)
		sort.Slice(subs, func(i, j int) bool { return subs[i].Name() < subs[j].Name() })
		for _, sub := range subs {
			fmt.Fprintf(w, "  %-10s %s\n", sub.Name(), sub.Short)
		}
	}
	if c.flags != nil {
		fmt.Fprintf(w, "\nFlags:\n")
		c.flags.SetOutput(w)
		c.flags.PrintDefaults()
		c.flags.SetOutput(io.Discard)
	}
}

// Execute finds the subcommand named by args, parses its flags and runs
// it. Commands without a Run function print their help.
func Execute(ctx context.Context, root *Command, args []string) error {
	cmd := root
	for len(args) > 0 {
		sub := cmd.find(args[0])
		if sub == nil {
			break
		}
		cmd = sub
		args = args[1:]
	}

	fs := cmd.Flags()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			cmd.PrintHelp(os.Stdout)
			return nil
		}
		cmd.PrintHelp(os.Stderr)
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	args = fs.Args()

	if cmd.Run == nil {
		cmd.PrintHelp(os.Stdout)
		if len(args) > 0 {
			return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
		}
		return nil
	}
	if cmd.Args != nil {
		if err := cmd.Args(args); err != nil {
			cmd.PrintHelp(os.Stderr)
			return err
		}
	}
	cmd.Run(ctx, args)
	return nil
}

package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Command is a single program invocation. Arguments are passed to the
// program verbatim; nothing is interpreted by a shell.
type Command struct {
	Program string
	Args    []string
}

// NewCommand builds a Command from a program and its arguments.
func NewCommand(program string, args ...string) Command {
	return Command{Program: program, Args: args}
}

// ParseCommand splits a configured command line (e.g. "import -window root png:-")
// into a Command using shell word rules. Environment variables and backticks
// are not expanded, and shell operators are rejected.
func ParseCommand(line string) (Command, error) {
	if ShellMetachars.MatchString(line) {
		return Command{}, fmt.Errorf("parse command %q: %w", line, ErrShellMetachar)
	}

	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false

	words, err := parser.Parse(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(words) == 0 {
		return Command{}, fmt.Errorf("parse command %q: %w", line, ErrEmptyValue)
	}
	cmd := Command{Program: words[0], Args: words[1:]}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks the program name and every argument.
func (c Command) Validate() error {
	if err := ValidateProgram(c.Program); err != nil {
		return fmt.Errorf("program %q: %w", c.Program, err)
	}
	for i, arg := range c.Args {
		if err := ValidateArgument(arg); err != nil {
			return &ArgumentError{Index: i, Arg: arg, Err: err}
		}
	}
	return nil
}

// String renders the command for diagnostics, quoting arguments that
// contain whitespace or quotes.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Program)
	for _, arg := range c.Args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\") {
			arg = strconv.Quote(arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ShellMetachars matches shell metacharacters that could enable command injection.
	ShellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)

	// ControlChars matches control characters like newlines and carriage returns.
	ControlChars = regexp.MustCompile(`[\r\n]`)

	// BareNamePattern matches safe bare executable names without paths.
	BareNamePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

	// containerNamePattern follows docker's own container name rule.
	containerNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

var (
	ErrEmptyValue       = errors.New("value is empty")
	ErrNullByte         = errors.New("value contains null byte")
	ErrControlChar      = errors.New("value contains control characters")
	ErrShellMetachar    = errors.New("value contains shell metacharacters")
	ErrOptionInjection  = errors.New("value starts with dash (option injection)")
	ErrInvalidBareName  = errors.New("value contains invalid characters for bare name")
	ErrInvalidContainer = errors.New("invalid container name")
)

// ValidateProgram checks that a program name or path is safe to hand to
// os/exec. Paths are accepted as long as they carry no metacharacters; bare
// names must match BareNamePattern.
func ValidateProgram(value string) error {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return ErrEmptyValue
	case strings.Contains(trimmed, "\x00"):
		return ErrNullByte
	case ControlChars.MatchString(trimmed):
		return ErrControlChar
	case ShellMetachars.MatchString(trimmed):
		return ErrShellMetachar
	case strings.HasPrefix(trimmed, "-"):
		return ErrOptionInjection
	}
	if isLikelyPath(trimmed) {
		return nil
	}
	if !BareNamePattern.MatchString(trimmed) {
		return ErrInvalidBareName
	}
	return nil
}

// ValidateContainerName checks a docker container name or id.
func ValidateContainerName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidContainer)
	}
	if !containerNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidContainer, name)
	}
	return nil
}

// ValidateArgument rejects null bytes. Arguments never pass through a shell,
// so metacharacters and quotes are allowed.
func ValidateArgument(arg string) error {
	if strings.Contains(arg, "\x00") {
		return ErrNullByte
	}
	return nil
}

// ArgumentError identifies which argument of a command failed validation.
type ArgumentError struct {
	Index int
	Arg   string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d is unsafe: %v", e.Index, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

func isLikelyPath(value string) bool {
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	return strings.Contains(value, "/")
}

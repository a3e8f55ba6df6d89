package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// displayPattern matches X11 display names such as ":99", ":0.1" or "host:1".
var displayPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]*:[0-9]+(\.[0-9]+)?$`)

// Handle identifies one addressable virtual desktop: an X display and the
// container it lives in. A Handle is immutable once constructed.
type Handle struct {
	display   string
	container string
}

// NewHandle validates and returns a Handle. container may be empty when the
// display is reachable from the host (local backend).
func NewHandle(display, container string) (Handle, error) {
	display = strings.TrimSpace(display)
	container = strings.TrimSpace(container)

	if !displayPattern.MatchString(display) {
		return Handle{}, fmt.Errorf("invalid display %q", display)
	}
	if container != "" {
		if err := ValidateContainerName(container); err != nil {
			return Handle{}, err
		}
	}
	return Handle{display: display, container: container}, nil
}

// Display returns the X display name (e.g. ":99").
func (h Handle) Display() string { return h.display }

// Container returns the container name, or "" for a host display.
func (h Handle) Container() string { return h.container }

// IsZero reports whether h was never constructed.
func (h Handle) IsZero() bool { return h.display == "" }

func (h Handle) String() string {
	if h.container == "" {
		return "local" + h.display
	}
	return h.container + h.display
}

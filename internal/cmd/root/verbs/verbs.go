package verbs

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const (
	Chat    = VerbValue("chat")
	Session = VerbValue("session")
	Upload  = VerbValue("upload")
	Login   = VerbValue("login")
	Logout  = VerbValue("logout")
	Serve   = VerbValue("serve")
	Version = VerbValue("version")
)

// VerbKey is the context key type under which the running verb is stored.
type VerbKey struct{}

var Verb = VerbKey{}

// VerbValue names a top level command (chat, session, login, ...).
type VerbValue string

func (v VerbValue) String() string {
	return string(v)
}

// ExactlyOneID accepts a single non-empty positional argument, such as a
// session id.
func ExactlyOneID(_ *cobra.Command, args []string) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("expected exactly one id argument, got %d", len(args))
	}
	return nil
}

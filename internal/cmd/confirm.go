package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	YesFlagName  = "yes"
	YesFlagShort = "y"
)

// AddYesFlag registers the flag that skips Confirm prompts.
func AddYesFlag(flags *pflag.FlagSet) {
	flags.BoolP(YesFlagName, YesFlagShort, false, "Skip the confirmation prompt.")
}

func autoApproved(helper Helper) bool {
	if helper.GetCmd() == nil {
		return false
	}
	yes, err := helper.GetCmd().Flags().GetBool(YesFlagName)
	return err == nil && yes
}

// Confirm asks the user to type "yes" before a destructive action on
// description. It fails without prompting when input is not interactive.
func Confirm(helper Helper, action, description string) error {
	if autoApproved(helper) {
		return nil
	}

	streams := helper.GetStreams()
	input := streams.In
	if f, ok := input.(*os.File); ok && f.Fd() == os.Stdin.Fd() {
		if tty, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0); err == nil {
			defer tty.Close()
			input = tty
		} else {
			return &ConfigurationError{
				Err: fmt.Errorf("cannot confirm %s without a terminal, pass --%s", action, YesFlagName),
			}
		}
	}

	fmt.Fprintf(streams.ErrOut, "You are about to %s %s.\nType 'yes' to confirm: ", action, description)

	lineCh := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(input).ReadString('\n')
		lineCh <- line
	}()

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return PrepareExecutionErrorMsg(helper, action+" cancelled")
	case line := <-lineCh:
		if strings.ToLower(strings.TrimSpace(line)) != "yes" {
			return PrepareExecutionErrorMsg(helper, action+" cancelled")
		}
		return nil
	}
}

package cli

import (
	"fmt"
	"os"

	"github.com/corvid-labs/foreman/internal/ferrors"
)

// printError writes err to stderr. *ferrors.ForemanError values render as
// their What/Why/Fix user message; anything else prints as a plain error.
func printError(err error) {
	if fErr := ferrors.AsForemanError(err); fErr != nil {
		fmt.Fprintln(os.Stderr, fErr.UserMessage())
		if verbose {
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", fErr.Code)
			if fErr.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", fErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

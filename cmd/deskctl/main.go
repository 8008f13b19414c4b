// deskctl - terminal client for the supportdesk admin inbox.
//
// Connects to the backend's admin stream and mirrors the dashboard's
// real-time conversation state in the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/lavoo/supportdesk/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

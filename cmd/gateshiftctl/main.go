package main

import (
	"os"

	"github.com/pkg/errors"

	gserr "github.com/gateshift/gateshift/pkg/errors"
)

func main() {
	rootCmd := newRoot().Command()

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		switch err := errors.Cause(err).(type) {
		case usageError:
			cmd.Println("Error:", err.Error())
			cmd.Println("")
			cmd.Println(cmd.UsageString())
		case *gserr.Error:
			cmd.Println(err.Help)
		default:
			cmd.Println("Error:", err.Error())
		}
		os.Exit(1)
	}
}

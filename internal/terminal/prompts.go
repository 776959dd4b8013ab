// Package terminal handles the few interactive prompts the CLI needs.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// PromptConfirm asks a yes/no question on the terminal. Without a terminal it
// returns defaultYes without asking.
func PromptConfirm(question string, defaultYes bool) (bool, error) {
	if !IsTerminal() {
		return defaultYes, nil
	}
	return Confirm(os.Stdin, os.Stdout, question, defaultYes)
}

// Confirm reads a yes/no answer from in. An empty answer selects the default.
func Confirm(in io.Reader, out io.Writer, question string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s [%s]: ", question, hint)
		input, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || input == "") {
			return false, fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}

		if err == io.EOF {
			return false, fmt.Errorf("failed to read input: %w", err)
		}
		fmt.Fprintln(out, "Please answer yes or no")
	}
}

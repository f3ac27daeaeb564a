package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// confirm prompts the user on stdin and reports whether they answered
// affirmatively. Used by apply and destroy before dispatching operations
// unless --auto-approve was given.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

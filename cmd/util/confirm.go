package util

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks a yes or no question, and returns whether the user answered
// yes. Anything other than `y` or `yes` is a no.
func Confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(resp)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

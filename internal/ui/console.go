package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"packshare/pkg/types"
)

// ConsoleUI implements InteractiveUI on a terminal
type ConsoleUI struct {
	out     io.Writer
	scanner *bufio.Scanner
}

// NewConsoleUI creates a console UI on stdin and stdout
func NewConsoleUI() *ConsoleUI {
	return NewConsoleUIWithIO(os.Stdin, os.Stdout)
}

// NewConsoleUIWithIO creates a console UI on the given streams
func NewConsoleUIWithIO(in io.Reader, out io.Writer) *ConsoleUI {
	scanner := bufio.NewScanner(in)
	// Descriptors with candidates run to several KB
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &ConsoleUI{out: out, scanner: scanner}
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	fmt.Fprintln(c.out, message)
}

// ShowShare displays the share code and the connection string
func (c *ConsoleUI) ShowShare(session types.ShareSession) {
	fmt.Fprintf(c.out, "\n=============================================\n")
	fmt.Fprintf(c.out, "Sharing %q (%s mode)\n", session.PackName, session.Mode)
	fmt.Fprintf(c.out, "%s\n", session.DisplayCode)
	fmt.Fprintf(c.out, "=============================================\n")
	fmt.Fprintf(c.out, "Send this connection string to the receiver:\n\n%s\n\n", session.ConnectionString)
}

// ShowAnswer displays the receiver's answer for the sharer
func (c *ConsoleUI) ShowAnswer(answer string) {
	fmt.Fprintf(c.out, "\nSend this answer back to the sharer:\n\n%s\n\n", answer)
}

// Prompt reads one trimmed line, giving up when ctx ends
func (c *ConsoleUI) Prompt(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)

	inputCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		if c.scanner.Scan() {
			inputCh <- strings.TrimSpace(c.scanner.Text())
			return
		}
		if err := c.scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-inputCh:
		return line, nil
	case err := <-errCh:
		return "", err
	}
}

package passphrase

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Terminal prompts on a terminal, echo disabled. When In is not a terminal
// (piped input) lines are read as-is.
type Terminal struct {
	In  *os.File
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminal prompts on stdin, writing prompts to stderr.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

// ReadPassword prints prompt and reads one passphrase.
func (t *Terminal) ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(t.Out, prompt)

	fd := int(t.In.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		fmt.Fprintln(t.Out)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return pass, nil
	}

	line, err := t.line()
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return []byte(line), nil
}

// Confirm asks a yes/no question; an empty answer is yes, end of input is no.
func (t *Terminal) Confirm(question string) (bool, error) {
	fmt.Fprintf(t.Out, "%s [Y/n] ", question)
	answer, err := t.line()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true, nil
	}
	return false, nil
}

func (t *Terminal) line() (string, error) {
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	line, err := t.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Package console prints agent status lines and collects answers from the
// human operator.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

type Kind int

const (
	AICall Kind = iota
	UnitTest
	Issue
	Success
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
)

func (k Kind) color() string {
	switch k {
	case AICall:
		return colorCyan
	case UnitTest:
		return colorMagenta
	case Issue:
		return colorRed
	default:
		return colorGreen
	}
}

type Console struct {
	mu     sync.Mutex
	out    io.Writer
	in     *bufio.Reader
	colors bool
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		out:    out,
		in:     bufio.NewReader(in),
		colors: isTerminal(out),
	}
}

func Stdio() *Console {
	return New(os.Stdin, os.Stdout)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *Console) paint(color, text string) string {
	if !c.colors {
		return text
	}
	return color + text + colorReset
}

// AgentMessage prints "Agent: <position>: <statement>" with the statement
// coloured by kind.
func (c *Console) AgentMessage(kind Kind, position, statement string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s%s\n", c.paint(colorGreen, "Agent: "+position+": "), c.paint(kind.color(), statement))
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read user input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) Ask(question string) (string, error) {
	c.mu.Lock()
	fmt.Fprintln(c.out, c.paint(colorBlue, question))
	c.mu.Unlock()
	return c.readLine()
}

// ConfirmSafeCode blocks until the operator approves (1, ok, y) or rejects
// (2, no, n) running AI-written code. Anything else re-prompts.
func (c *Console) ConfirmSafeCode() (bool, error) {
	for {
		c.mu.Lock()
		fmt.Fprintln(c.out)
		fmt.Fprintln(c.out, c.paint(colorBlue, "WARNING: You are about to run code written entirely by AI"))
		fmt.Fprintln(c.out, c.paint(colorBlue, "Review your code and confirm you wish to continue"))
		fmt.Fprintln(c.out, c.paint(colorGreen, "[1] All good"))
		fmt.Fprintln(c.out, c.paint(colorRed, "[2] Stop this project"))
		c.mu.Unlock()

		answer, err := c.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "1", "ok", "y":
			return true, nil
		case "2", "no", "n":
			return false, nil
		default:
			c.mu.Lock()
			fmt.Fprintln(c.out, "Invalid input. Please select '1' or '2'")
			c.mu.Unlock()
		}
	}
}

package admission

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ConsoleDecider prompts the operator on a terminal for each approval
// request. Anything other than y/yes rejects.
type ConsoleDecider struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func NewConsoleDecider(in io.Reader, out io.Writer) *ConsoleDecider {
	return &ConsoleDecider{
		In:     in,
		Out:    out,
		reader: bufio.NewReader(in),
	}
}

func (d *ConsoleDecider) Decide(req Request) bool {
	fmt.Fprintln(d.Out, strings.Repeat("=", 60))
	fmt.Fprintf(d.Out, "[!] Connection request from %s\n", req.RemoteAddr)
	fmt.Fprintf(d.Out, "[!] Session: %.8s...\n", req.SessionID)
	fmt.Fprintln(d.Out, strings.Repeat("=", 60))
	fmt.Fprint(d.Out, "Allow this connection? (y/n): ")

	line, err := d.reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

package inputs

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// ErrAborted is returned when the operator interrupts a prompt.
var ErrAborted = errors.New("input aborted")

// ReadlinePrompter asks for values on the terminal.
type ReadlinePrompter struct {
	rl *readline.Instance
}

// NewReadlinePrompter opens a line editor on the process terminal.
func NewReadlinePrompter() (*ReadlinePrompter, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return &ReadlinePrompter{rl: rl}, nil
}

// Prompt implements Prompter.
func (p *ReadlinePrompter) Prompt(f schema.InputField) (string, error) {
	if f.Description != "" {
		fmt.Fprintf(p.rl.Stdout(), "%s\n", f.Description)
	}
	label := f.Name
	if f.Type != "" && f.Type != TypeString {
		label += " (" + f.Type + ")"
	}
	p.rl.SetPrompt(label + ": ")
	line, err := p.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Close releases the terminal.
func (p *ReadlinePrompter) Close() error {
	return p.rl.Close()
}

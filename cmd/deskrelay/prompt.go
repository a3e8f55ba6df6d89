package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// loadDotEnv loads dotenv files without overriding variables already set.
// Missing files are ignored; a file that exists but does not parse is an error.
func loadDotEnv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

// prompter reads operator input, hiding secrets when stdin is a terminal.
type prompter struct {
	in     *bufio.Reader
	file   *os.File
	out    io.Writer
	isTerm func(fd int) bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, isTerm: term.IsTerminal}
	if f, ok := in.(*os.File); ok {
		p.file = f
	}
	return p
}

func (p *prompter) readLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *prompter) readSecret(prompt string) (string, error) {
	if p.file == nil || !p.isTerm(int(p.file.Fd())) {
		return p.readLine(prompt)
	}
	fmt.Fprint(p.out, prompt)
	secret, err := term.ReadPassword(int(p.file.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(secret), nil
}

// resolveAPIKey returns configured unless empty, in which case the operator
// is prompted.
func (p *prompter) resolveAPIKey(configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	key, err := p.readSecret("Enter your OpenAI API key: ")
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("an OpenAI API key is required")
	}
	return key, nil
}

// resolveInstruction returns given unless empty, in which case the operator
// is prompted.
func (p *prompter) resolveInstruction(given string) (string, error) {
	if s := strings.TrimSpace(given); s != "" {
		return s, nil
	}
	s, err := p.readLine("Enter command or action: ")
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("an instruction is required")
	}
	return s, nil
}

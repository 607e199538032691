// SPDX-License-Identifier: GPL-3.0-or-later

// Package cliprompt implements an [github.com/bassosimone/oncp/internal/authctl.Prompter]
// that collects form input on the controlling terminal, masking
// password and token entry the way the original command-line client
// does.
package cliprompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/bassosimone/oncp/internal/authctl"
	"github.com/bassosimone/oncp/internal/authform"
)

// Terminal collects [authform.AuthForm] input from stdin/stdout.
// PresetUsername and PresetAuthGroup, if non-empty, are filled
// automatically the first time the matching opt is seen instead of
// prompting, so a configured username doesn't have to be retyped every
// run.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	PresetUsername  string
	PresetAuthGroup string

	// PresetPassword, if non-empty, fills the first PASSWORD opt
	// automatically instead of prompting, for a password recalled from
	// a secret store.
	PresetPassword string

	// OnPassword, if set, is invoked with whatever the user typed into
	// the first PASSWORD opt, so a caller can offer to persist it to a
	// secret store after a successful login.
	OnPassword func(password string)

	usernameUsed  bool
	authGroupUsed bool
	passwordUsed  bool
}

var _ authctl.Prompter = &Terminal{}

// NewTerminal returns a [*Terminal] reading from stdin and writing to
// stdout.
func NewTerminal(presetUsername, presetAuthGroup string) *Terminal {
	return &Terminal{
		In:              os.Stdin,
		Out:             os.Stdout,
		PresetUsername:  presetUsername,
		PresetAuthGroup: presetAuthGroup,
	}
}

// WithPasswordCache wires a cached password into t and arranges for a
// freshly typed one to be reported back through onPassword, letting a
// caller offer to save it to a secret store after a successful login.
func (t *Terminal) WithPasswordCache(cached string, onPassword func(password string)) *Terminal {
	t.PresetPassword = cached
	t.OnPassword = onPassword
	return t
}

// Prompt implements [authctl.Prompter].
func (t *Terminal) Prompt(ctx context.Context, form *authform.AuthForm) authctl.PromptResult {
	if form.Banner != "" {
		fmt.Fprintln(t.Out, form.Banner)
	}
	if form.Message != "" {
		fmt.Fprintln(t.Out, form.Message)
	}
	if form.Error != "" {
		fmt.Fprintln(t.Out, "error:", form.Error)
	}

	reader := bufio.NewReader(t.In)
	for i := range form.Opts {
		opt := &form.Opts[i]
		switch opt.Kind {
		case authform.Hidden:
			continue
		case authform.Text:
			if opt.Name == "username" && !t.usernameUsed && t.PresetUsername != "" {
				opt.SetValue(t.PresetUsername)
				t.usernameUsed = true
				continue
			}
			line, err := t.readLine(reader, opt.Label)
			if err != nil {
				return authctl.PromptAbort
			}
			opt.SetValue(line)
		case authform.Password:
			if !t.passwordUsed && t.PresetPassword != "" {
				opt.SetValue(t.PresetPassword)
				t.passwordUsed = true
				continue
			}
			pass, err := t.readSecret(reader, opt.Label)
			if err != nil {
				return authctl.PromptAbort
			}
			opt.SetValue(pass)
			if !t.passwordUsed {
				t.passwordUsed = true
				if t.OnPassword != nil {
					t.OnPassword(pass)
				}
			}
		case authform.Token:
			pass, err := t.readSecret(reader, opt.Label)
			if err != nil {
				return authctl.PromptAbort
			}
			opt.SetValue(pass)
		case authform.Select:
			if opt.Name == "realm" && !t.authGroupUsed && t.PresetAuthGroup != "" {
				opt.SetValue(t.PresetAuthGroup)
				t.authGroupUsed = true
				continue
			}
			choice, changed, err := t.readChoice(reader, opt)
			if err != nil {
				return authctl.PromptAbort
			}
			opt.SetValue(choice)
			if opt.Name == "realm" && changed {
				return authctl.PromptNewGroup
			}
		}
	}
	return authctl.PromptOK
}

func (t *Terminal) readLine(reader *bufio.Reader, label string) (string, error) {
	fmt.Fprintf(t.Out, "%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret masks terminal echo via term.ReadPassword when In is a
// real tty; otherwise it falls back to reading a plain line from the
// same buffered reader used for every other opt, so scripted/test
// input is not split across two independent readers over one
// underlying stream.
func (t *Terminal) readSecret(reader *bufio.Reader, label string) (string, error) {
	fmt.Fprintf(t.Out, "%s: ", label)
	if f, ok := t.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(t.Out)
		if err != nil {
			return "", err
		}
		return string(bytes), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *Terminal) readChoice(reader *bufio.Reader, opt *authform.FormOpt) (value string, changed bool, err error) {
	fmt.Fprintf(t.Out, "%s:\n", opt.Label)
	for i, c := range opt.Choices {
		fmt.Fprintf(t.Out, "  %d) %s\n", i+1, c.Label)
	}
	fmt.Fprint(t.Out, "select: ")
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", false, err
	}
	line = strings.TrimSpace(line)
	idx, convErr := strconv.Atoi(line)
	if convErr != nil || idx < 1 || idx > len(opt.Choices) {
		return "", false, fmt.Errorf("invalid choice %q", line)
	}
	chosen := opt.Choices[idx-1]
	_, alreadySelected := opt.SelectedChoice()
	return chosen.Name, !alreadySelected || chosen.Name != opt.Value(), nil
}

// SPDX-License-Identifier: GPL-3.0-or-later

// Package authctl implements the Oncp login state machine: the
// Fetch -> Parse -> Classify -> Prompt -> Token -> Submit -> Redirect
// loop that drives [github.com/bassosimone/oncp.HttpsTransport] and
// [github.com/bassosimone/oncp/internal/htmlform] to produce an
// authenticated session cookie.
package authctl

import (
	"bytes"
	"context"
	"net/url"

	"github.com/bassosimone/oncp"
	"github.com/bassosimone/oncp/internal/authform"
	"github.com/bassosimone/oncp/internal/htmlform"
	"github.com/bassosimone/oncp/internal/token"
)

// PromptResult is returned by a [Prompter] after collecting user input
// for a form.
type PromptResult int

const (
	// PromptOK means the form's opts were filled and the controller
	// should proceed to token generation and submission.
	PromptOK PromptResult = iota

	// PromptNewGroup means the user changed the realm/authgroup
	// selection; the controller re-fetches the form from scratch.
	PromptNewGroup

	// PromptAbort means the user cancelled or the prompt failed; the
	// controller aborts the session.
	PromptAbort
)

// Prompter collects user input for form, mutating its opts in place
// (e.g. filling in username/password, or selecting a realm/role).
type Prompter interface {
	Prompt(ctx context.Context, form *authform.AuthForm) PromptResult
}

// Tncc performs the endpoint-compliance pre-auth handshake. Handshake is
// invoked once, on the first iteration, if the initial response carries
// no form. SetCookie pushes the finalized session cookie to the helper
// so its view stays in sync, whenever the controller finalizes one.
type Tncc interface {
	Handshake(ctx context.Context, jar *oncp.CookieJar) error
	SetCookie(ctx context.Context, cookie string) error
}

// Controller drives the login state machine against a transport.
type Controller struct {
	Transport *oncp.HttpsTransport
	Prompter  Prompter
	Tncc      Tncc
	Token     token.Generator
	Logger    oncp.SLogger

	tokenBypassed bool
}

// NewController returns a ready-to-use [*Controller]. tncc and gen may
// be nil if the session does not use endpoint compliance or token
// generation respectively.
func NewController(transport *oncp.HttpsTransport, prompter Prompter, tncc Tncc, gen token.Generator, logger oncp.SLogger) *Controller {
	if logger == nil {
		logger = oncp.DefaultSLogger()
	}
	return &Controller{
		Transport: transport,
		Prompter:  prompter,
		Tncc:      tncc,
		Token:     gen,
		Logger:    logger,
	}
}

// Run drives the login loop starting at urlPath, returning the final
// synthesized session cookie string on success.
//
// Each form submission's response already reflects any redirect chain
// HttpsTransport followed internally, so the loop carries that body
// forward into the next iteration rather than re-fetching the
// submission target; currentURL is only re-fetched for a realm change
// or after a TNCC handshake.
func (c *Controller) Run(ctx context.Context, urlPath string) (string, error) {
	currentURL := urlPath
	_, body, err := c.Transport.Get(ctx, currentURL)
	if err != nil {
		return "", err
	}

	handshaked := false
	for iteration := 0; ; iteration++ {
		if c.Transport.Jar().Authenticated() {
			return c.Transport.Jar().SessionCookie(), nil
		}

		tokenKind := token.None
		if c.Token != nil {
			tokenKind = c.Token.Kind()
		}
		if c.tokenBypassed {
			tokenKind = token.Bypassed
		}

		form, err := htmlform.Parse(bytes.NewReader(body), tokenKind)
		if err != nil {
			return "", oncp.NewError(oncp.KindProtocolError, "parseForm", err)
		}

		if form == nil {
			if iteration == 0 && !handshaked && c.Tncc != nil {
				if _, ok := c.Transport.Jar().Get(oncp.CookieDSPreAuth); !ok {
					return "", oncp.NewError(oncp.KindInvalidArg, "tncc", errNoPreAuthCookie)
				}
				if err := c.Tncc.Handshake(ctx, c.Transport.Jar()); err != nil {
					return "", err
				}
				handshaked = true
				_, body, err = c.Transport.Get(ctx, currentURL)
				if err != nil {
					return "", err
				}
				continue
			}
			return "", oncp.NewError(oncp.KindAuthFailed, "classify", errNoForm)
		}

		nextBody, result, err := c.step(ctx, form)
		form.Release()
		if err != nil {
			return "", err
		}
		switch result {
		case PromptNewGroup:
			_, body, err = c.Transport.Get(ctx, currentURL)
			if err != nil {
				return "", err
			}
			continue
		case PromptAbort:
			return "", oncp.NewError(oncp.KindAuthFailed, "prompt", errPromptAborted)
		}
		body = nextBody
	}
}

// step classifies form by auth_id, prompts/fills/submits it, and
// returns the response body to parse next.
func (c *Controller) step(ctx context.Context, form *authform.AuthForm) ([]byte, PromptResult, error) {
	switch form.AuthID {
	case "frmLogin", "frmDefender", "frmNextToken", "frmTotpToken":
		return c.promptAndSubmit(ctx, form)
	case "frmConfirmation":
		return c.submit(ctx, form)
	case "frmSelectRoles":
		return c.selectRole(ctx, form)
	default:
		return nil, PromptAbort, oncp.NewError(oncp.KindAuthFailed, "classify", errUnknownAuthID)
	}
}

func (c *Controller) promptAndSubmit(ctx context.Context, form *authform.AuthForm) ([]byte, PromptResult, error) {
	result := PromptOK
	if c.Prompter != nil {
		result = c.Prompter.Prompt(ctx, form)
	}
	if result != PromptOK {
		return nil, result, nil
	}

	if err := c.fillToken(ctx, form); err != nil {
		return nil, PromptAbort, nil
	}

	return c.submit(ctx, form)
}

// fillToken writes the current token code into the form's TOKEN opt,
// if any. On failure it sets tokenBypassed so that the next attempt
// asks the user to complete the challenge manually, matching the
// propagation policy for TokenFailed.
func (c *Controller) fillToken(ctx context.Context, form *authform.AuthForm) error {
	for i := range form.Opts {
		if form.Opts[i].Kind != authform.Token {
			continue
		}
		if c.Token == nil {
			continue
		}
		code, err := c.Token.Next(ctx)
		if err != nil {
			c.tokenBypassed = true
			return oncp.NewError(oncp.KindTokenFailed, "token", err)
		}
		form.Opts[i].SetValue(code)
	}
	return nil
}

func (c *Controller) submit(ctx context.Context, form *authform.AuthForm) ([]byte, PromptResult, error) {
	body := encodeForm(form)
	_, respBody, err := c.Transport.Post(ctx, form.Action, body)
	if err != nil {
		return nil, PromptAbort, err
	}

	if c.Tncc != nil {
		if cookie := c.Transport.Jar().SessionCookie(); cookie != "" {
			if err := c.Tncc.SetCookie(ctx, cookie); err != nil {
				return nil, PromptAbort, err
			}
		}
	}

	return respBody, PromptOK, nil
}

// selectRole treats the selected choice's name (a URL) as the next
// redirect target directly, bypassing form-encoding entirely, and
// fetches it itself since there is no POST to follow.
func (c *Controller) selectRole(ctx context.Context, form *authform.AuthForm) ([]byte, PromptResult, error) {
	result := PromptOK
	if c.Prompter != nil {
		result = c.Prompter.Prompt(ctx, form)
	}
	if result != PromptOK {
		return nil, result, nil
	}

	roleOpt := form.Opt("role")
	if roleOpt == nil {
		return nil, PromptAbort, oncp.NewError(oncp.KindAuthFailed, "selectRole", errNoRoleChoice)
	}
	choice, ok := roleOpt.SelectedChoice()
	if !ok {
		return nil, PromptAbort, oncp.NewError(oncp.KindAuthFailed, "selectRole", errNoRoleChoice)
	}

	_, respBody, err := c.Transport.Get(ctx, choice.Name)
	if err != nil {
		return nil, PromptAbort, err
	}
	return respBody, PromptOK, nil
}

func encodeForm(form *authform.AuthForm) []byte {
	values := url.Values{}
	for _, opt := range form.Opts {
		values.Set(opt.Name, opt.Value())
	}
	return []byte(values.Encode())
}

var errNoForm = authCtlErr("no form in response and no TNCC helper configured")
var errNoPreAuthCookie = authCtlErr("missing DSPREAUTH cookie")
var errUnknownAuthID = authCtlErr("unknown auth_id")
var errPromptAborted = authCtlErr("prompt aborted")
var errNoRoleChoice = authCtlErr("no role selected")

type authCtlErr string

func (e authCtlErr) Error() string { return string(e) }

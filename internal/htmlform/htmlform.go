// SPDX-License-Identifier: GPL-3.0-or-later

// Package htmlform extracts an [authform.AuthForm] from a gateway's
// HTML login page, walking the DOM produced by [golang.org/x/net/html]
// in document order.
package htmlform

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/bassosimone/oncp/internal/authform"
	"github.com/bassosimone/oncp/internal/token"
)

// roleSelectTableID is the table whose <a href=...> children become
// SELECT choices on a role-selection page.
const roleSelectTableID = "TABLE_SelectRole_1"

// extraSubmitButtonNames are the two button names tolerated regardless of
// the current form kind, in addition to the form-specific button named
// in [ExpectedSubmitButton].
var extraSubmitButtonNames = map[string]bool{
	"sn-preauth-proceed":  true,
	"sn-postauth-proceed": true,
}

// ExpectedSubmitButton returns the submit button name the controller
// expects for authID, per the auth_id dispatch table.
func ExpectedSubmitButton(authID string) string {
	switch authID {
	case "frmLogin":
		return "btnSubmit"
	case "frmDefender", "frmNextToken":
		return "btnAction"
	case "frmTotpToken":
		return "totpactionEnter"
	case "frmConfirmation":
		return "btnContinue"
	default:
		return ""
	}
}

// Parse walks r's HTML document and extracts the first <form> (or the
// role-selection table, if present) into an [*authform.AuthForm].
//
// tokenKind, when non-[token.None] and non-[token.Bypassed], causes a
// password input to be retyped as TOKEN when the form's auth_id is one
// of frmDefender, frmNextToken, frmTotpToken — mirroring the parser's
// rule for recognizing a one-time-token challenge disguised as a
// password field.
func Parse(r io.Reader, tokenKind token.Kind) (*authform.AuthForm, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	if table := findByID(doc, roleSelectTableID); table != nil {
		return parseRoleSelectTable(table), nil
	}

	formNode := findFirst(doc, "form")
	if formNode == nil {
		return nil, nil
	}
	return parseForm(formNode, tokenKind), nil
}

func parseForm(n *html.Node, tokenKind token.Kind) *authform.AuthForm {
	method := strings.ToUpper(attr(n, "method"))
	if method == "" {
		method = "POST"
	}
	action := attr(n, "action")
	authID := attr(n, "name")

	form := authform.NewAuthForm(authID, action)
	form.Method = method

	expectedButton := ExpectedSubmitButton(authID)

	walk(n, func(child *html.Node) bool {
		if child == n {
			return true
		}
		switch {
		case child.Type == html.ElementNode && child.Data == "input":
			addInputOpt(form, child, authID, tokenKind, expectedButton)
		case child.Type == html.ElementNode && child.Data == "select":
			addSelectOpt(form, child)
		case child.Type == html.ElementNode && child.Data == "textarea":
			applyTextarea(form, child)
		}
		return true
	})

	return form
}

func addInputOpt(form *authform.AuthForm, n *html.Node, authID string, tokenKind token.Kind, expectedButton string) {
	typ := strings.ToLower(attr(n, "type"))
	name := attr(n, "name")
	value := attr(n, "value")

	switch typ {
	case "hidden", "checkbox":
		form.AddOpt(authform.NewHiddenOpt(name, value))
	case "text", "username":
		form.AddOpt(authform.NewTextOpt(name, name))
	case "password":
		if isTokenChallenge(authID, tokenKind) {
			form.AddOpt(authform.NewTokenOpt(name, name))
		} else {
			form.AddOpt(authform.NewPasswordOpt(name, name))
		}
	case "submit":
		if name == expectedButton || extraSubmitButtonNames[name] {
			form.AddOpt(authform.NewHiddenOpt(name, value))
		}
		// else: skipped, with a debug log left to the caller.
	}
}

// isTokenChallenge reports whether a password input on this form
// should be retyped as TOKEN: the form's auth_id must be one of the
// known challenge kinds and a token generator must actually be
// available.
func isTokenChallenge(authID string, kind token.Kind) bool {
	switch authID {
	case "frmDefender", "frmNextToken", "frmTotpToken":
		return kind != token.None && kind != token.Bypassed
	default:
		return false
	}
}

func addSelectOpt(form *authform.AuthForm, n *html.Node) {
	name := attr(n, "name")
	var choices []authform.Choice
	walk(n, func(child *html.Node) bool {
		if child.Type == html.ElementNode && child.Data == "option" {
			text := textContent(child)
			choices = append(choices, authform.Choice{
				// Known bug preserved: Name derives from the visible
				// label, not the option's value attribute.
				Name:  text,
				Label: text,
			})
		}
		return true
	})
	form.AddOpt(authform.NewSelectOpt(name, name, choices))
}

func applyTextarea(form *authform.AuthForm, n *html.Node) {
	name := attr(n, "name")
	if name != "sn-postauth-text" && name != "sn-preauth-text" {
		return
	}
	form.Banner = textContent(n)
}

func parseRoleSelectTable(table *html.Node) *authform.AuthForm {
	form := authform.NewAuthForm("frmSelectRoles", "")
	var choices []authform.Choice
	walk(table, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			label := textContent(n)
			choices = append(choices, authform.Choice{Name: href, Label: label})
		}
		return true
	})
	form.AddOpt(authform.NewSelectOpt("role", "Role", choices))
	return form
}

// findByID returns the first element in doc order with the given id
// attribute, or nil.
func findByID(doc *html.Node, id string) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// findFirst returns the first element with the given tag name in doc
// order, or nil.
func findFirst(doc *html.Node, tag string) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits n and its descendants in document order (depth-first,
// pre-order), invoking visit on each node. Returning false from visit
// skips that node's descendants; the traversal of the remaining nodes
// continues.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return strings.TrimSpace(sb.String())
}

// SPDX-License-Identifier: GPL-3.0-or-later

// Package authform models the Oncp authentication form: a tagged union
// of option kinds produced by parsing the gateway's HTML login pages
// and consumed by the controller's prompt/token/submit loop.
package authform

// OptKind tags the variant carried by a [FormOpt].
type OptKind int

const (
	Hidden OptKind = iota
	Text
	Password
	Token
	Select
)

// String returns the OptKind's label.
func (k OptKind) String() string {
	switch k {
	case Hidden:
		return "Hidden"
	case Text:
		return "Text"
	case Password:
		return "Password"
	case Token:
		return "Token"
	case Select:
		return "Select"
	default:
		return "Unknown"
	}
}

// Choice is one option of a SELECT [FormOpt].
//
// Name mirrors the known parser bug documented for [FormOpt]: it is
// derived from the option's visible label text, not its value
// attribute. This is intentionally preserved rather than fixed — some
// gateway forms depend on the visible-text behavior.
type Choice struct {
	Name          string
	Label         string
	AuthType      string
	OverrideName  string
	OverrideLabel string
}

// FormOpt is one input of an [AuthForm], tagged by [OptKind].
//
// A SELECT opt never stores a raw cross-pointer into one of its
// Choices. Instead the "selected value" is represented as an index
// into Choices, recovered through [FormOpt.SelectedChoice]; this avoids
// the aliased-ownership hazard of the original `_value` pointer, which
// aliased a child Choice's name and had to outlive it.
type FormOpt struct {
	Kind  OptKind
	Name  string
	Label string
	Next  string

	// value holds the PASSWORD/TEXT/TOKEN value, or — for Hidden
	// opts synthesized from a submit button — the button's value.
	value secretString

	// Choices and SelectedIndex apply only when Kind == Select.
	Choices       []Choice
	SelectedIndex *int
}

// NewTextOpt returns a Text FormOpt.
func NewTextOpt(name, label string) FormOpt {
	return FormOpt{Kind: Text, Name: name, Label: label}
}

// NewHiddenOpt returns a Hidden FormOpt with a fixed value.
func NewHiddenOpt(name, value string) FormOpt {
	opt := FormOpt{Kind: Hidden, Name: name}
	opt.SetValue(value)
	return opt
}

// NewPasswordOpt returns a Password FormOpt.
func NewPasswordOpt(name, label string) FormOpt {
	return FormOpt{Kind: Password, Name: name, Label: label}
}

// NewTokenOpt returns a Token FormOpt, typically produced by retyping a
// Password opt once a token generator is configured for the current
// auth_id.
func NewTokenOpt(name, label string) FormOpt {
	return FormOpt{Kind: Token, Name: name, Label: label}
}

// NewSelectOpt returns a Select FormOpt with the given choices.
func NewSelectOpt(name, label string, choices []Choice) FormOpt {
	return FormOpt{Kind: Select, Name: name, Label: label, Choices: choices}
}

// Value returns the opt's current value (the plaintext for a SELECT's
// selected choice's name, or the stored value for every other kind).
func (o *FormOpt) Value() string {
	if o.Kind == Select {
		if c, ok := o.SelectedChoice(); ok {
			return c.Name
		}
		return ""
	}
	return o.value.Reveal()
}

// SetValue stores value, wiping any previously stored secret first.
//
// For a Select opt, SetValue looks up value among the Choices by Name
// and records the matching index; if no choice matches, the selection
// is cleared.
func (o *FormOpt) SetValue(value string) {
	if o.Kind == Select {
		for i := range o.Choices {
			if o.Choices[i].Name == value {
				idx := i
				o.SelectedIndex = &idx
				return
			}
		}
		o.SelectedIndex = nil
		return
	}
	o.value.Wipe()
	o.value = newSecretString(value)
}

// SelectedChoice returns the currently selected Choice, if any.
func (o *FormOpt) SelectedChoice() (Choice, bool) {
	if o.Kind != Select || o.SelectedIndex == nil {
		return Choice{}, false
	}
	if *o.SelectedIndex < 0 || *o.SelectedIndex >= len(o.Choices) {
		return Choice{}, false
	}
	return o.Choices[*o.SelectedIndex], true
}

// Release wipes the opt's secret-bearing value. Callers must call
// Release on every FormOpt once a form is no longer needed, on every
// exit path (including error paths), matching the scoped secret-wipe
// design.
func (o *FormOpt) Release() {
	o.value.Wipe()
}

// AuthForm is the in-memory representation of one gateway-served login
// page: a list of options the controller prompts for, fills, and
// submits as a single POST.
type AuthForm struct {
	Method  string
	Action  string
	AuthID  string
	Banner  string
	Message string
	Error   string
	Opts    []FormOpt

	// AuthGroupOpt indexes into Opts the realm-selection SELECT opt,
	// if the form has one.
	AuthGroupOpt *int
}

// NewAuthForm returns an [AuthForm] with Method defaulted to POST and
// Banner defaulted to authID, matching the parser's defaulting rules.
func NewAuthForm(authID, action string) *AuthForm {
	return &AuthForm{
		Method: "POST",
		Action: action,
		AuthID: authID,
		Banner: authID,
	}
}

// AddOpt appends opt to the form, discarding it (with the caller
// expected to log at debug level) if its name duplicates an existing
// opt, keeping the first occurrence — matching the parser's
// duplicate-name rule.
func (f *AuthForm) AddOpt(opt FormOpt) (added bool) {
	for _, existing := range f.Opts {
		if existing.Name == opt.Name {
			return false
		}
	}
	f.Opts = append(f.Opts, opt)
	if opt.Name == "realm" && opt.Kind == Select {
		idx := len(f.Opts) - 1
		f.AuthGroupOpt = &idx
	}
	return true
}

// Opt returns a pointer to the named opt, or nil if absent.
func (f *AuthForm) Opt(name string) *FormOpt {
	for i := range f.Opts {
		if f.Opts[i].Name == name {
			return &f.Opts[i]
		}
	}
	return nil
}

// Release wipes every opt's secret-bearing value. Call once the form
// has been consumed by one prompt/submit round trip.
func (f *AuthForm) Release() {
	for i := range f.Opts {
		f.Opts[i].Release()
	}
}

// Valid reports whether the form satisfies the parser's structural
// invariants: Method is POST, Action is non-empty, and every opt name
// is unique (guaranteed by construction through AddOpt, checked here
// defensively for forms built by hand, e.g. in tests).
func (f *AuthForm) Valid() bool {
	if f.Method != "POST" || f.Action == "" {
		return false
	}
	seen := make(map[string]bool, len(f.Opts))
	for _, opt := range f.Opts {
		if seen[opt.Name] {
			return false
		}
		seen[opt.Name] = true
	}
	return true
}

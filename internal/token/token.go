// SPDX-License-Identifier: GPL-3.0-or-later

// Package token computes one-time codes for challenge forms
// (frmDefender, frmNextToken, frmTotpToken), wrapping
// [github.com/pquerna/otp]'s TOTP/HOTP implementations behind a small
// Generator interface so that vendor and smart-card tokens can be
// plugged in without the controller knowing the difference.
package token

import (
	"context"
	"time"

	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

// Kind identifies the token mode configured for a session.
type Kind int

const (
	// None means no token generator is configured; password inputs on
	// challenge forms are left as plain passwords.
	None Kind = iota

	// Bypassed means token generation failed previously in this
	// session and the controller has disabled it for now, requiring
	// the user to complete challenge forms manually.
	Bypassed

	TOTP
	HOTP
	Vendor
)

// Generator computes the next code for a challenge form.
type Generator interface {
	Kind() Kind
	Next(ctx context.Context) (string, error)
}

// TOTPGenerator computes TOTP codes from a shared secret.
type TOTPGenerator struct {
	Secret  string
	TimeNow func() time.Time
}

var _ Generator = &TOTPGenerator{}

func (g *TOTPGenerator) Kind() Kind { return TOTP }

func (g *TOTPGenerator) Next(ctx context.Context) (string, error) {
	now := time.Now
	if g.TimeNow != nil {
		now = g.TimeNow
	}
	return totp.GenerateCode(g.Secret, now())
}

// HOTPGenerator computes HOTP codes from a shared secret and an
// incrementing counter.
type HOTPGenerator struct {
	Secret  string
	Counter uint64
}

var _ Generator = &HOTPGenerator{}

func (g *HOTPGenerator) Kind() Kind { return HOTP }

func (g *HOTPGenerator) Next(ctx context.Context) (string, error) {
	code, err := hotp.GenerateCode(g.Secret, g.Counter)
	if err != nil {
		return "", err
	}
	g.Counter++
	return code, nil
}

// VendorGenerator delegates to an externally supplied function,
// accommodating vendor softtoken and smart-card integrations that this
// package does not implement directly.
type VendorGenerator struct {
	NextFunc func(ctx context.Context) (string, error)
}

var _ Generator = &VendorGenerator{}

func (g *VendorGenerator) Kind() Kind { return Vendor }

func (g *VendorGenerator) Next(ctx context.Context) (string, error) {
	return g.NextFunc(ctx)
}

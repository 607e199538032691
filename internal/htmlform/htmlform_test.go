// SPDX-License-Identifier: GPL-3.0-or-later

package htmlform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/oncp/internal/token"
)

func TestParseSimpleLoginForm(t *testing.T) {
	const page = `<html><body>
<form name=frmLogin method=POST action=/auth>
<input name=username type=text>
<input name=password type=password>
<input name=btnSubmit type=submit value=Go>
</form>
</body></html>`

	form, err := Parse(strings.NewReader(page), token.None)
	require.NoError(t, err)
	require.NotNil(t, form)

	assert.Equal(t, "POST", form.Method)
	assert.Equal(t, "/auth", form.Action)
	assert.Equal(t, "frmLogin", form.AuthID)

	username := form.Opt("username")
	require.NotNil(t, username)
	assert.Equal(t, "username", username.Name)

	password := form.Opt("password")
	require.NotNil(t, password)

	btn := form.Opt("btnSubmit")
	require.NotNil(t, btn)
	assert.Equal(t, "Go", btn.Value())
}

func TestParseRetypesPasswordAsTokenForChallengeForms(t *testing.T) {
	const page = `<html><body>
<form name=frmTotpToken method=POST action=/auth>
<input name=password type=password>
<input name=totpactionEnter type=submit value=Continue>
</form>
</body></html>`

	form, err := Parse(strings.NewReader(page), token.TOTP)
	require.NoError(t, err)

	opt := form.Opt("password")
	require.NotNil(t, opt)
	assert.Equal(t, "Token", opt.Kind.String())
}

func TestParseDiscardsUnexpectedSubmitButton(t *testing.T) {
	const page = `<html><body>
<form name=frmLogin method=POST action=/auth>
<input name=btnCancel type=submit value=Cancel>
<input name=btnSubmit type=submit value=Go>
</form>
</body></html>`

	form, err := Parse(strings.NewReader(page), token.None)
	require.NoError(t, err)
	assert.Nil(t, form.Opt("btnCancel"))
	assert.NotNil(t, form.Opt("btnSubmit"))
}

func TestParseSelectPreservesLabelBugInsteadOfValue(t *testing.T) {
	const page = `<html><body>
<form name=frmLogin method=POST action=/auth>
<select name=realm>
<option value="staff-id">Staff</option>
<option value="guest-id">Guest</option>
</select>
</form>
</body></html>`

	form, err := Parse(strings.NewReader(page), token.None)
	require.NoError(t, err)

	opt := form.Opt("realm")
	require.NotNil(t, opt)
	require.NotNil(t, form.AuthGroupOpt)
	require.Len(t, opt.Choices, 2)
	// Known bug preserved: Name comes from the visible label "Staff",
	// not the value attribute "staff-id".
	assert.Equal(t, "Staff", opt.Choices[0].Name)
	assert.Equal(t, "Guest", opt.Choices[1].Name)
}

func TestParseRoleSelectTable(t *testing.T) {
	const page = `<html><body>
<table id=TABLE_SelectRole_1>
<tr><td><a href="/rolepick?r=1">Admin</a></td></tr>
<tr><td><a href="/rolepick?r=2">User</a></td></tr>
</table>
</body></html>`

	form, err := Parse(strings.NewReader(page), token.None)
	require.NoError(t, err)
	require.Equal(t, "frmSelectRoles", form.AuthID)

	opt := form.Opt("role")
	require.NotNil(t, opt)
	require.Len(t, opt.Choices, 2)
	assert.Equal(t, "/rolepick?r=1", opt.Choices[0].Name)
	assert.Equal(t, "Admin", opt.Choices[0].Label)
}

func TestParseTextareaOverridesBanner(t *testing.T) {
	const page = `<html><body>
<form name=frmConfirmation method=POST action=/auth>
<textarea name=sn-preauth-text>Please confirm your identity.</textarea>
<input name=btnContinue type=submit value=Continue>
</form>
</body></html>`

	form, err := Parse(strings.NewReader(page), token.None)
	require.NoError(t, err)
	assert.Equal(t, "Please confirm your identity.", form.Banner)
}

func TestParseDuplicateInputKeepsFirst(t *testing.T) {
	const page = `<html><body>
<form name=frmLogin method=POST action=/auth>
<input name=username type=text>
<input name=username type=hidden value=override>
</form>
</body></html>`

	form, err := Parse(strings.NewReader(page), token.None)
	require.NoError(t, err)
	require.Len(t, form.Opts, 1)
	assert.Equal(t, "Text", form.Opts[0].Kind.String())
}

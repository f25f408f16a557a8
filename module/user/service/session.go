package service

import (
	"strings"

	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/security"
)

// NewSessionContext decodes the token once. A token that does not decode
// yields an anonymous context and ErrIdentityInvalid; callers treat that as
// "not signed in" and never show it to the user.
func NewSessionContext(token string) (usermodel.SessionContext, error) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")

	switch r := security.Decode(token).(type) {
	case security.Ok:
		return usermodel.SessionContext{
			Token:     token,
			Identity:  r.Identity,
			ExpiresAt: r.ExpiresAt,
		}, nil
	case security.Invalid:
		return usermodel.SessionContext{}, errs.ErrIdentityInvalid.WrapMsg(r.Reason)
	default:
		return usermodel.SessionContext{}, errs.ErrIdentityInvalid.Wrap()
	}
}

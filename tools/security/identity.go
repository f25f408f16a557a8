package security

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/decode"
)

// Result is the outcome of decoding a bearer token: Ok or Invalid.
type Result interface {
	isResult()
}

type Ok struct {
	Identity  usermodel.Identity
	ExpiresAt time.Time // zero when exp is absent
}

type Invalid struct {
	Reason string
}

func (Ok) isResult()      {}
func (Invalid) isResult() {}

func (i Invalid) Error() string { return "invalid token: " + i.Reason }

// Decode reads the payload of a token without verifying its signature.
// It never fails loudly: anything malformed comes back as Invalid.
// The result depends only on the token string, not on the clock.
func Decode(token string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Invalid{Reason: fmt.Sprint("panic: ", r)}
		}
	}()
	if token == "" {
		return Invalid{Reason: "empty token"}
	}
	// 只读 payload 段，header 里的 alg 不参与解码
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Invalid{Reason: fmt.Sprintf("token has %d segments, want 3", len(parts))}
	}
	raw, err := jwtlib.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return Invalid{Reason: "payload not base64url: " + err.Error()}
	}
	claims := jwtlib.MapClaims{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Invalid{Reason: "payload not json: " + err.Error()}
	}
	ok, err := fromClaims(claims)
	if err != nil {
		return Invalid{Reason: err.Error()}
	}
	return ok
}

// IdentityOf unwraps a Result.
func IdentityOf(r Result) (usermodel.Identity, bool) {
	if ok, isOk := r.(Ok); isOk {
		return ok.Identity, true
	}
	return usermodel.Identity{}, false
}

func fromClaims(claims jwtlib.MapClaims) (Ok, error) {
	raw, err := decode.ReadMap(claims, "user")
	if err != nil {
		return Ok{}, err
	}
	u, err := decode.DecodeMap[usermodel.Identity](raw)
	if err != nil {
		return Ok{}, err
	}
	if u.IsZero() {
		return Ok{}, fmt.Errorf("user id missing")
	}
	out := Ok{Identity: *u}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

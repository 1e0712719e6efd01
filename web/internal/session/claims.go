package session

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserLabel extracts a display name from an access token's claims. Opaque
// tokens and tokens without a name claim yield "".
func UserLabel(accessToken string) string {
	if accessToken == "" {
		return ""
	}

	// Parse JWT without verification; the content service verifies it.
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(accessToken, claims); err != nil {
		return ""
	}

	for _, key := range []string{"display_name", "name", "email", "username", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

package middlewares

import (
	"crypto/subtle"
	"net/http"
)

// AdminCookieName holds the admin secret once an operator has logged in.
const AdminCookieName = "admin_secret"

// AdminAuth reports whether r carries the admin secret. presented is true
// when a cookie was sent at all, so callers can tell "not logged in" from
// "wrong secret".
func AdminAuth(r *http.Request, secret string) (ok bool, presented bool) {
	cookie, err := r.Cookie(AdminCookieName)
	if err != nil {
		return false, false
	}
	return secretsEqual(cookie.Value, secret), true
}

// CheckAdminSecret compares a submitted login secret with the configured one.
func CheckAdminSecret(submitted, secret string) bool {
	return secretsEqual(submitted, secret)
}

// SetAdminCookie stores secret in a cookie scoped to the whole site.
func SetAdminCookie(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookieName,
		Value:    secret,
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

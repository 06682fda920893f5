package auth

import "golang.org/x/crypto/bcrypt"

// HashAdminToken produces the value stored in ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(b), err
}

// CheckAdminToken compares a presented token with the configured hash. An
// empty hash disables admin access.
func CheckAdminToken(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

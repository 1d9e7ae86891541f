package model

import "time"

// TokenRecord is the persisted OAuth credential for a single Fitbit user.
// Exactly one record exists per user id; it is overwritten in place after
// every successful refresh and never deleted by this service.
type TokenRecord struct {
	UserID       string `json:"user_id" dynamodbav:"user_id"`
	AccessToken  string `json:"access_token" dynamodbav:"access_token"`
	RefreshToken string `json:"refresh_token" dynamodbav:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at" dynamodbav:"expires_at"`
	Scope        string `json:"scope" dynamodbav:"scope"`
	UpdatedAt    string `json:"updated_at" dynamodbav:"updated_at"`
}

// ExpiryMargin is subtracted from expires_at when deciding whether a token
// is still usable. It absorbs clock skew and in-flight request latency.
const ExpiryMargin = 300 * time.Second

// Expired reports whether the token should be refreshed before use.
func (t *TokenRecord) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt-int64(ExpiryMargin.Seconds())
}

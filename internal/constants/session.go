package constants

import "time"

// Token lifetimes used when configuration leaves them unset.
const (
	DefaultAccessTokenTTL  = 60 * time.Minute
	DefaultRefreshTokenTTL = 24 * time.Hour
	DefaultGuestTokenTTL   = 2 * time.Hour
)

// Cookie names carrying staff tokens.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Case id format.
const (
	CaseIDPrefix      = "CS"
	CaseIDLength      = 8
	CaseIDAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CaseIDMaxAttempts = 10
)

// CloseUnauthorized is the websocket close code sent when a realtime
// connection presents a missing, invalid, expired or mismatched token.
const CloseUnauthorized = 4003

// Default rejection reasons per stage.
const (
	DefaultRejectCredentials = "Invalid credentials"
	DefaultRejectSecretKey   = "Invalid secret key"
	DefaultRejectKYC         = "KYC verification failed"
)

// MinSecretLength is the shortest auth.secret accepted outside dev mode.
const MinSecretLength = 32

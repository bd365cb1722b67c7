package session

import (
	"net/url"
	"strings"
)

// Auth types attached to telemetry events.
const (
	AuthScram          = "scram"
	AuthLDAP           = "ldap"
	AuthKerberos       = "kerberos"
	AuthOIDCAuthFlow   = "oidc-auth-flow"
	AuthOIDCDeviceFlow = "oidc-device-flow"
	AuthX509           = "x.509"
)

// DeriveAuthType maps a connection string's authMechanism to the telemetry
// auth type. SCRAM variants and the absent default both report "scram".
// OIDC reports the device flow only when the mechanism properties ask for it.
func DeriveAuthType(connectionString string) string {
	u, err := url.Parse(connectionString)
	if err != nil {
		return AuthScram
	}
	q := u.Query()

	mechanism := strings.ToUpper(q.Get("authMechanism"))
	switch mechanism {
	case "MONGODB-X509":
		return AuthX509
	case "GSSAPI":
		return AuthKerberos
	case "PLAIN":
		return AuthLDAP
	case "MONGODB-OIDC":
		props := strings.ToUpper(q.Get("authMechanismProperties"))
		if strings.Contains(props, "DEVICE_FLOW") {
			return AuthOIDCDeviceFlow
		}
		return AuthOIDCAuthFlow
	default:
		return AuthScram
	}
}

package config

type Provider struct{}

var _ ProviderConfig = Provider{}

// GetProviderIssuer returns the external OIDC issuer. Empty disables the external provider.
func (Provider) GetProviderIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (Provider) GetProviderClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (Provider) GetProviderClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

func (Provider) GetProviderRedirectURL() string {
	return GetEnv("OIDC_REDIRECT_URL", "http://localhost:8085/callback")
}

func (Provider) GetProviderScopes() []string {
	scopes := splitList(GetEnv("OIDC_SCOPES", ""))
	if len(scopes) == 0 {
		return []string{"openid", "profile", "email", "offline_access"}
	}
	return scopes
}

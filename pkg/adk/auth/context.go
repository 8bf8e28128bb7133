package auth

import "context"

type credentialKey struct{}

// ContextWithCredential returns a context carrying the session credential, so
// transports can forward it to the backend.
func ContextWithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFromContext returns the credential stored by ContextWithCredential.
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(Credential)
	return cred, ok && cred.Token != ""
}

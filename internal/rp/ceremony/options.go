package ceremony

// Wire shapes for W3C PublicKeyCredential creation and request options.
// Binary fields are base64url without padding, matching what browser
// WebAuthn helpers expect before converting to ArrayBuffers.

const (
	publicKeyCredentialType = "public-key"

	attachmentPlatform   = "platform"
	residentKeyPreferred = "preferred"
	verificationRequired = "required"
	attestationNone      = "none"
)

// RelyingPartyEntity identifies the relying party in creation options.
type RelyingPartyEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserEntity carries the protocol-level user identity. ID is the opaque
// user handle, never the username.
type UserEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// CredentialParameter names one acceptable COSE signature algorithm.
type CredentialParameter struct {
	Type string `json:"type"`
	Alg  int64  `json:"alg"`
}

// CredentialDescriptor references one registered credential by its raw id.
type CredentialDescriptor struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

// AuthenticatorSelection constrains which authenticators may respond to a
// creation ceremony.
type AuthenticatorSelection struct {
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
	ResidentKey             string `json:"residentKey,omitempty"`
	UserVerification        string `json:"userVerification,omitempty"`
}

// CreationOptions is the publicKey member of a credential creation request.
type CreationOptions struct {
	RP                     RelyingPartyEntity      `json:"rp"`
	User                   UserEntity              `json:"user"`
	Challenge              string                  `json:"challenge"`
	PubKeyCredParams       []CredentialParameter   `json:"pubKeyCredParams"`
	Timeout                int64                   `json:"timeout,omitempty"`
	ExcludeCredentials     []CredentialDescriptor  `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection *AuthenticatorSelection `json:"authenticatorSelection,omitempty"`
	Attestation            string                  `json:"attestation,omitempty"`
}

// RequestOptions is the publicKey member of a credential request.
type RequestOptions struct {
	Challenge        string                 `json:"challenge"`
	Timeout          int64                  `json:"timeout,omitempty"`
	RPID             string                 `json:"rpId,omitempty"`
	AllowCredentials []CredentialDescriptor `json:"allowCredentials,omitempty"`
	UserVerification string                 `json:"userVerification,omitempty"`
}

// defaultParameters lists the COSE algorithms accepted at registration:
// ES256, EdDSA, and RS256 for older platform authenticators.
func defaultParameters() []CredentialParameter {
	return []CredentialParameter{
		{Type: publicKeyCredentialType, Alg: -7},
		{Type: publicKeyCredentialType, Alg: -8},
		{Type: publicKeyCredentialType, Alg: -257},
	}
}

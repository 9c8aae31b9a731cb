// Package protocol routes decrypted DIDComm messages to the registry and
// translates typed errors into problem reports. Transport encryption and
// signature verification happen in a collaborator; this package only sees
// authenticated envelopes.
package protocol

// TypePrefix is the protocol namespace shared by every message type.
const TypePrefix = "https://affinidi.com/webvh/1.0/"

const (
	TypeAuthenticate         = TypePrefix + "authenticate"
	TypeAuthenticateResponse = TypePrefix + "authenticate-response"

	TypeDidRequest       = TypePrefix + "did/request"
	TypeDidOffer         = TypePrefix + "did/offer"
	TypeDidPublish       = TypePrefix + "did/publish"
	TypeDidConfirm       = TypePrefix + "did/confirm"
	TypeWitnessPublish   = TypePrefix + "did/witness-publish"
	TypeWitnessConfirm   = TypePrefix + "did/witness-confirm"
	TypeDidInfoRequest   = TypePrefix + "did/info-request"
	TypeDidInfo          = TypePrefix + "did/info"
	TypeDidListRequest   = TypePrefix + "did/list-request"
	TypeDidList          = TypePrefix + "did/list"
	TypeDidDelete        = TypePrefix + "did/delete"
	TypeDidDeleteConfirm = TypePrefix + "did/delete-confirm"
	TypeDidProblemReport = TypePrefix + "did/problem-report"
)

// Problem report codes, stable across releases.
const (
	CodeUnauthorized     = "e.p.did.unauthorized"
	CodeQuotaExceeded    = "e.p.did.quota-exceeded"
	CodeSizeExceeded     = "e.p.did.size-exceeded"
	CodePathUnavailable  = "e.p.did.path-unavailable"
	CodePathInvalid      = "e.p.did.path-invalid"
	CodeMnemonicNotFound = "e.p.did.mnemonic-not-found"
	CodeInvalidLog       = "e.p.did.invalid-log"
	CodeProofInvalid     = "e.p.did.proof-invalid"
	CodeWitnessInvalid   = "e.p.did.witness-invalid"
	CodeNotPublished     = "e.p.did.not-published"
	CodeValidationError  = "e.p.did.validation-error"
	CodeInternalError    = "e.p.did.internal-error"
)

// Message is a decrypted, signature-verified DIDComm envelope.
type Message struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	From        string         `json:"from"`
	To          []string       `json:"to,omitempty"`
	ThID        string         `json:"thid,omitempty"`
	CreatedTime int64          `json:"created_time,omitempty"`
	Body        map[string]any `json:"body"`
}

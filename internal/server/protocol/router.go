package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/acl"
	"github.com/affinidi/affinidi-webvh-service/internal/server/auth"
	"github.com/affinidi/affinidi-webvh-service/internal/server/registry"
	"github.com/google/uuid"
)

// Router dispatches inbound messages per type and builds the reply. It is
// the only place typed errors become wire codes.
type Router struct {
	registry  *registry.Registry
	acl       *acl.Policy
	sessions  *auth.Manager
	serverDID string
	publicURL string
	log       logging.Logger
	now       func() int64
}

func NewRouter(reg *registry.Registry, policy *acl.Policy, sessions *auth.Manager, serverDID, publicURL string, log logging.Logger) *Router {
	return &Router{
		registry:  reg,
		acl:       policy,
		sessions:  sessions,
		serverDID: serverDID,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		log:       log,
		now:       common.NowEpoch,
	}
}

// Handle processes one inbound envelope and returns the reply, or nil for
// messages outside the protocol namespace.
func (r *Router) Handle(ctx context.Context, in *Message) *Message {
	if !strings.HasPrefix(in.Type, TypePrefix) {
		r.log.Debug(ctx, "ignoring message outside protocol namespace", "type", in.Type)
		return nil
	}

	sender := senderBase(in.From)
	if sender == "" {
		return r.problem(in, sender, CodeValidationError, "message has no sender")
	}

	actor, err := r.acl.Authenticate(ctx, sender)
	if err != nil {
		return r.problemFromError(in, sender, err)
	}

	var reply *Message
	switch in.Type {
	case TypeAuthenticate:
		reply, err = r.handleAuthenticate(ctx, in, sender, actor)
	case TypeDidRequest:
		reply, err = r.handleRequest(ctx, in, sender, actor)
	case TypeDidPublish:
		reply, err = r.handlePublish(ctx, in, sender, actor)
	case TypeWitnessPublish:
		reply, err = r.handleWitnessPublish(ctx, in, sender, actor)
	case TypeDidInfoRequest:
		reply, err = r.handleInfoRequest(ctx, in, sender, actor)
	case TypeDidListRequest:
		reply, err = r.handleListRequest(ctx, in, sender, actor)
	case TypeDidDelete:
		reply, err = r.handleDelete(ctx, in, sender, actor)
	default:
		return r.problem(in, sender, CodeValidationError, "unsupported message type")
	}
	if err != nil {
		return r.problemFromError(in, sender, err)
	}
	return reply
}

func (r *Router) handleAuthenticate(ctx context.Context, in *Message, sender string, actor acl.Actor) (*Message, error) {
	tokens, err := r.sessions.CreateSession(ctx, actor)
	if err != nil {
		return nil, err
	}
	return r.reply(in, sender, TypeAuthenticateResponse, toBody(tokens)), nil
}

func (r *Router) handleRequest(ctx context.Context, in *Message, sender string, actor acl.Actor) (*Message, error) {
	var path *string
	if p, ok := in.Body["path"].(string); ok && p != "" {
		path = &p
	}
	rec, err := r.registry.Reserve(ctx, actor, path)
	if err != nil {
		return nil, err
	}
	return r.reply(in, sender, TypeDidOffer, map[string]any{
		"mnemonic":   rec.Mnemonic,
		"did_url":    fmt.Sprintf("%s/%s/did.jsonl", r.publicURL, rec.Mnemonic),
		"server_did": r.serverDID,
	}), nil
}

func (r *Router) handlePublish(ctx context.Context, in *Message, sender string, actor acl.Actor) (*Message, error) {
	mnemonic, ok := in.Body["mnemonic"].(string)
	logContent, ok2 := in.Body["log"].(string)
	if !ok || !ok2 || mnemonic == "" || logContent == "" {
		return nil, fmt.Errorf("%w: publish needs mnemonic and log", common.ErrorValidation)
	}
	rec, err := r.registry.Publish(ctx, actor, mnemonic, logContent)
	if err != nil {
		return nil, err
	}
	return r.reply(in, sender, TypeDidConfirm, map[string]any{
		"mnemonic":      rec.Mnemonic,
		"did_id":        *rec.DidID,
		"version_count": rec.VersionCount,
	}), nil
}

func (r *Router) handleWitnessPublish(ctx context.Context, in *Message, sender string, actor acl.Actor) (*Message, error) {
	mnemonic, ok := in.Body["mnemonic"].(string)
	if !ok || mnemonic == "" {
		return nil, fmt.Errorf("%w: witness-publish needs mnemonic", common.ErrorValidation)
	}
	witness, err := witnessContent(in.Body["witness"])
	if err != nil {
		return nil, err
	}
	if err := r.registry.AttachWitness(ctx, actor, mnemonic, witness); err != nil {
		return nil, err
	}
	return r.reply(in, sender, TypeWitnessConfirm, map[string]any{"mnemonic": mnemonic}), nil
}

func (r *Router) handleInfoRequest(ctx context.Context, in *Message, sender string, actor acl.Actor) (*Message, error) {
	mnemonic, ok := in.Body["mnemonic"].(string)
	if !ok || mnemonic == "" {
		return nil, fmt.Errorf("%w: info-request needs mnemonic", common.ErrorValidation)
	}
	rec, meta, usage, err := r.registry.Info(ctx, actor, mnemonic)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"record": toBody(rec), "stats": toBody(usage)}
	if meta != nil {
		body["metadata"] = toBody(meta)
	}
	return r.reply(in, sender, TypeDidInfo, body), nil
}

func (r *Router) handleListRequest(ctx context.Context, in *Message, sender string, actor acl.Actor) (*Message, error) {
	var filter *string
	if o, ok := in.Body["owner"].(string); ok && o != "" {
		filter = &o
	}
	recs, err := r.registry.List(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	dids := make([]any, len(recs))
	for i := range recs {
		dids[i] = toBody(&recs[i])
	}
	return r.reply(in, sender, TypeDidList, map[string]any{"dids": dids}), nil
}

func (r *Router) handleDelete(ctx context.Context, in *Message, sender string, actor acl.Actor) (*Message, error) {
	mnemonic, ok := in.Body["mnemonic"].(string)
	if !ok || mnemonic == "" {
		return nil, fmt.Errorf("%w: delete needs mnemonic", common.ErrorValidation)
	}
	if err := r.registry.Delete(ctx, actor, mnemonic); err != nil {
		return nil, err
	}
	return r.reply(in, sender, TypeDidDeleteConfirm, map[string]any{"mnemonic": mnemonic}), nil
}

func (r *Router) reply(in *Message, to, msgType string, body map[string]any) *Message {
	return &Message{
		ID:          uuid.NewString(),
		Type:        msgType,
		From:        r.serverDID,
		To:          []string{to},
		ThID:        in.ID,
		CreatedTime: r.now(),
		Body:        body,
	}
}

func (r *Router) problem(in *Message, to, code, comment string) *Message {
	return r.reply(in, to, TypeDidProblemReport, map[string]any{
		"code":    code,
		"comment": comment,
	})
}

func (r *Router) problemFromError(in *Message, to string, err error) *Message {
	code, comment := wireCode(err)
	if code == CodeInternalError {
		r.log.Error(context.Background(), "internal error handling message",
			"type", in.Type, "id", in.ID, "error", err)
	}
	return r.problem(in, to, code, comment)
}

// wireCode maps a typed error to its problem-report code and a sanitized
// comment. Raw error text never crosses the wire.
func wireCode(err error) (string, string) {
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		return CodeUnauthorized, "not authorized for this operation"
	case errors.Is(err, common.ErrorSizeExceeded):
		return CodeSizeExceeded, "total stored size limit exceeded"
	case errors.Is(err, common.ErrorQuotaExceeded):
		return CodeQuotaExceeded, "DID count limit exceeded"
	case errors.Is(err, common.ErrorPathUnavailable):
		return CodePathUnavailable, "requested path is already taken"
	case errors.Is(err, common.ErrorPathInvalid):
		return CodePathInvalid, "requested path is not a valid mnemonic"
	case errors.Is(err, common.ErrorNotFound):
		return CodeMnemonicNotFound, "unknown mnemonic"
	case errors.Is(err, common.ErrorProofInvalid):
		return CodeProofInvalid, "log proof verification failed"
	case errors.Is(err, common.ErrorInvalidLog):
		return CodeInvalidLog, "log content failed validation"
	case errors.Is(err, common.ErrorWitnessInvalid):
		return CodeWitnessInvalid, "witness content is invalid"
	case errors.Is(err, common.ErrorNotPublished):
		return CodeNotPublished, "DID log has not been published"
	case errors.Is(err, common.ErrorValidation):
		return CodeValidationError, "message failed validation"
	default:
		return CodeInternalError, "internal error"
	}
}

// senderBase strips the key fragment from a DIDComm from header.
func senderBase(from string) string {
	base, _, _ := strings.Cut(from, "#")
	return base
}

// witnessContent accepts the witness as either a JSON object or a
// pre-serialized string.
func witnessContent(v any) (string, error) {
	switch w := v.(type) {
	case string:
		if w != "" {
			return w, nil
		}
	case map[string]any:
		raw, err := json.Marshal(w)
		if err == nil {
			return string(raw), nil
		}
	}
	return "", fmt.Errorf("%w: witness content must be a JSON object", common.ErrorWitnessInvalid)
}

// toBody converts a typed value into the generic body shape.
func toBody(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Package proof issues and redeems verification proofs: short-lived, single-use tokens
// recording that a client's fingerprint matched at a specific hospital.
package proof

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insureflow/internal/biometric"
	"insureflow/internal/platform/ephemeral"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/requestcontext"
)

// DefaultTTL is how long a confirmed match may be redeemed.
const DefaultTTL = 5 * time.Minute

// Verifier matches a probe against a stored template.
type Verifier interface {
	Check(ctx context.Context, stored, probe biometric.Template) biometric.Verdict
}

type record struct {
	ClientID   id.ClientID   `json:"client_id"`
	HospitalID id.HospitalID `json:"hospital_id"`
	IssuedAt   time.Time     `json:"issued_at"`
}

// Ledger confirms matches and redeems the resulting proofs.
type Ledger struct {
	store    ephemeral.Store
	verifier Verifier
	ttl      time.Duration
}

// NewLedger constructs a Ledger. A zero ttl uses DefaultTTL.
func NewLedger(store ephemeral.Store, verifier Verifier, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{store: store, verifier: verifier, ttl: ttl}
}

// ConfirmMatch verifies probe against stored and, on a match, issues a proof token bound
// to (client, hospital). Only VerdictMatched carries a token.
func (l *Ledger) ConfirmMatch(ctx context.Context, clientID id.ClientID, hospitalID id.HospitalID, stored, probe biometric.Template) (token string, verdict biometric.Verdict, err error) {
	verdict = l.verifier.Check(ctx, stored, probe)
	if verdict != biometric.VerdictMatched {
		return "", verdict, nil
	}
	token, err = l.issue(ctx, clientID, hospitalID)
	if err != nil {
		return "", verdict, err
	}
	return token, verdict, nil
}

func (l *Ledger) issue(ctx context.Context, clientID id.ClientID, hospitalID id.HospitalID) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate verification proof")
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	payload, err := json.Marshal(record{
		ClientID:   clientID,
		HospitalID: hospitalID,
		IssuedAt:   requestcontext.Now(ctx),
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode verification proof")
	}
	if err := l.store.Put(ctx, token, payload, l.ttl); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification proof")
	}
	return token, nil
}

// Check validates token for (client, hospital) without redeeming it. It fails with
// CodeVerificationRequired when the token is unknown, expired, already used or bound to a
// different pair.
func (l *Ledger) Check(ctx context.Context, token string, clientID id.ClientID, hospitalID id.HospitalID) error {
	_, err := l.lookup(ctx, token, clientID, hospitalID)
	return err
}

// Consume redeems token for (client, hospital). The binding is checked before the token is
// deleted, so a proof presented for the wrong pair stays redeemable by the right one.
func (l *Ledger) Consume(ctx context.Context, token string, clientID id.ClientID, hospitalID id.HospitalID) error {
	raw, err := l.lookup(ctx, token, clientID, hospitalID)
	if err != nil {
		return err
	}
	err = l.store.TakeIfEqual(ctx, token, raw)
	if errors.Is(err, sentinel.ErrNotFound) {
		return errProofUnusable
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to redeem verification proof")
	}
	return nil
}

var errProofUnusable = dErrors.New(dErrors.CodeVerificationRequired, "verification proof is invalid, expired or already used")

func (l *Ledger) lookup(ctx context.Context, token string, clientID id.ClientID, hospitalID id.HospitalID) ([]byte, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeVerificationRequired, "biometric verification is required before submitting a claim")
	}
	raw, err := l.store.Peek(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, errProofUnusable
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read verification proof")
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("decode proof: %w", err), dErrors.CodeInternal, "failed to read verification proof")
	}
	if rec.ClientID != clientID || rec.HospitalID != hospitalID {
		return nil, dErrors.New(dErrors.CodeVerificationRequired, "verification proof does not match this client and hospital")
	}
	return raw, nil
}

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainOperation is the domain prefix for operation dedup keys.
// The version suffix enables future algorithm migration.
const DomainOperation = "fieldsync/operation/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DedupKey computes the content-addressed key of an operation.
// Two operations with the same kind and an equal payload share a key.
func DedupKey(kind OpKind, payload json.RawMessage) (string, error) {
	body, err := canonicalizeJSON(payload)
	if err != nil {
		return "", fmt.Errorf("dedup key: %w", err)
	}
	kb, err := marshalCanonicalString(string(kind))
	if err != nil {
		return "", fmt.Errorf("dedup key: %w", err)
	}
	data := make([]byte, 0, len(kb)+1+len(body))
	data = append(data, kb...)
	data = append(data, 0x00)
	data = append(data, body...)
	return hashWithDomain(DomainOperation, data), nil
}

// OperationKey marshals payload and returns its dedup key along with the
// encoded payload.
func OperationKey(kind OpKind, payload any) (string, json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("operation key: %w", err)
	}
	key, err := DedupKey(kind, raw)
	if err != nil {
		return "", nil, err
	}
	return key, raw, nil
}

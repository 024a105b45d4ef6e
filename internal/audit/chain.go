package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// computeRowHash computes HMAC-SHA256(key, prevHash|ts|peer|action|resource|details|success).
// Returns "" when key is nil (chain disabled).
//
// Verify in buffered_logger.go calls this same function to re-derive each
// row's hash, so rows written under one formula only verify under it.
func computeRowHash(key []byte, prevHash string, e ChainEvent) string {
	if len(key) == 0 {
		return ""
	}
	// ChainEvent.Timestamp is int64 (Unix seconds), formatted as decimal for
	// a stable byte representation.
	msg := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%v",
		prevHash,
		e.Timestamp,
		e.Peer,
		e.Action,
		e.Resource,
		e.Details,
		e.Success,
	)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

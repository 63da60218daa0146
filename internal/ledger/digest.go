package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
)

// #region digest
type digestInput struct {
	Host   string                `json:"host"`
	Seq    uint64                `json:"seq"`
	Levels map[domain.ID]float64 `json:"levels"`
}

// StateDigest returns the hex SHA-256 of the RFC 8785 canonical JSON of a
// host state. Equal states digest equally regardless of map order.
func StateDigest(host string, seq uint64, levels map[domain.ID]float64) (string, error) {
	if levels == nil {
		levels = map[domain.ID]float64{}
	}
	return Digest(digestInput{Host: host, Seq: seq, Levels: levels})
}

// Digest canonicalizes v and hashes it.
func Digest(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for digest: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// #endregion digest

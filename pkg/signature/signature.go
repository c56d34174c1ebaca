// Package signature verifies detached payment authorizations.
//
// Two proof styles are supported: an ed25519 signature over the charge
// payload, and a merkle inclusion proof against a published allowlist root.
// Verification is pure; callers decide what a verified identity is allowed
// to do.
package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// InvalidSignatureError reports a signature that failed verification.
type InvalidSignatureError struct {
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid signature: %s", e.Reason)
}

// IsInvalidSignature checks if an error is a signature verification failure.
func IsInvalidSignature(err error) bool {
	_, ok := err.(*InvalidSignatureError)
	return ok
}

// Verify checks an ed25519 signature over message and returns the signer
// identity as the hex-encoded public key.
func Verify(message, sig, pub []byte) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", &InvalidSignatureError{Reason: fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))}
	}
	if len(sig) != ed25519.SignatureSize {
		return "", &InvalidSignatureError{Reason: fmt.Sprintf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))}
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return "", &InvalidSignatureError{Reason: "verification failed"}
	}
	return hex.EncodeToString(pub), nil
}

// Leaf hashes an allowlist entry into a merkle leaf.
func Leaf(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// MerkleVerify checks that leaf is included under root given a proof of
// sibling hashes. Pairs are hashed in sorted order, so the proof carries no
// left/right direction bits.
func MerkleVerify(proof [][32]byte, root, leaf [32]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// treeNode is one node at the current level during tree construction, with
// the leaf indexes it covers.
type treeNode struct {
	hash   [32]byte
	leaves []int
}

// BuildTree computes a merkle root and per-leaf proofs for a set of entries.
// An unpaired node at the end of a level is promoted unchanged. Intended for
// tests and allowlist publication tooling, not the charge path.
func BuildTree(entries [][]byte) (root [32]byte, proofs [][][32]byte) {
	if len(entries) == 0 {
		return root, nil
	}

	level := make([]treeNode, len(entries))
	proofs = make([][][32]byte, len(entries))
	for i, e := range entries {
		level[i] = treeNode{hash: Leaf(e), leaves: []int{i}}
	}

	for len(level) > 1 {
		next := make([]treeNode, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			left, right := level[i], level[i+1]
			for _, leaf := range left.leaves {
				proofs[leaf] = append(proofs[leaf], right.hash)
			}
			for _, leaf := range right.leaves {
				proofs[leaf] = append(proofs[leaf], left.hash)
			}
			next = append(next, treeNode{
				hash:   hashPair(left.hash, right.hash),
				leaves: append(left.leaves, right.leaves...),
			})
		}
		level = next
	}
	return level[0].hash, proofs
}

package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/rtpsmw/rtpsmw/guid"
)

// HandshakeState is the PKI-DH machine of spec.md §4.7 (four pending states
// plus two completed states), ported
// from authentication.rs's BuiltinHandshakeState.
type HandshakeState int

const (
	PendingRequestSend HandshakeState = iota
	PendingRequestMessage
	PendingReplyMessage
	PendingFinalMessage
	CompletedWithFinalMessageSent
	CompletedWithFinalMessageReceived
)

func (s HandshakeState) String() string {
	switch s {
	case PendingRequestSend:
		return "PendingRequestSend"
	case PendingRequestMessage:
		return "PendingRequestMessage"
	case PendingReplyMessage:
		return "PendingReplyMessage"
	case PendingFinalMessage:
		return "PendingFinalMessage"
	case CompletedWithFinalMessageSent:
		return "CompletedWithFinalMessageSent"
	case CompletedWithFinalMessageReceived:
		return "CompletedWithFinalMessageReceived"
	default:
		return "Unknown"
	}
}

// KeyAgreementAlgo selects ECDH (default, curve25519) or MODP-DH
// (accepted for interop, spec.md §4.7). MODP-DH is implemented over
// math/big directly: it's a specific legacy DH group negotiation, not a
// generic crypto primitive any example-corpus library exposes, so
// hand-rolling it here is the justified stdlib exception noted in
// DESIGN.md.
type KeyAgreementAlgo int

const (
	ECDH KeyAgreementAlgo = iota
	ModpDH
)

// DHKeyPair holds one side's ephemeral key-agreement keys, generalized
// over ECDH and MODP-DH (authentication.rs's DHKeys).
type DHKeyPair struct {
	Algo    KeyAgreementAlgo
	Private [32]byte // ECDH: curve25519 scalar. MODP-DH: see modpdh.go.
	Public  [32]byte
}

func GenerateDHKeyPair(algo KeyAgreementAlgo) (DHKeyPair, error) {
	switch algo {
	case ECDH:
		var priv [32]byte
		if _, err := rand.Read(priv[:]); err != nil {
			return DHKeyPair{}, fmt.Errorf("security: generate ECDH private scalar: %w", err)
		}
		pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
		if err != nil {
			return DHKeyPair{}, fmt.Errorf("security: derive ECDH public key: %w", err)
		}
		var pubArr [32]byte
		copy(pubArr[:], pub)
		return DHKeyPair{Algo: ECDH, Private: priv, Public: pubArr}, nil
	case ModpDH:
		return generateModpDHKeyPair()
	default:
		return DHKeyPair{}, fmt.Errorf("security: unknown key agreement algorithm %d", algo)
	}
}

// SharedSecret computes DH(ourPrivate, theirPublic), the step both
// PendingReplyMessage (initiator) and PendingFinalMessage (responder)
// perform per spec.md §4.7 steps 3/4.
func SharedSecret(ours DHKeyPair, theirPublic [32]byte) ([]byte, error) {
	switch ours.Algo {
	case ECDH:
		secret, err := curve25519.X25519(ours.Private[:], theirPublic[:])
		if err != nil {
			return nil, fmt.Errorf("security: ECDH shared secret: %w", err)
		}
		return secret, nil
	case ModpDH:
		return modpDHSharedSecret(ours, theirPublic)
	default:
		return nil, fmt.Errorf("security: unknown key agreement algorithm %d", ours.Algo)
	}
}

// Challenge is a fresh 256-bit nonce (challenge1/challenge2 in spec.md
// §4.7).
type Challenge [32]byte

func NewChallenge() (Challenge, error) {
	var c Challenge
	if _, err := rand.Read(c[:]); err != nil {
		return Challenge{}, fmt.Errorf("security: generate challenge: %w", err)
	}
	return c, nil
}

// HandshakeRequestToken is sent by the initiator in PendingRequestSend.
type HandshakeRequestToken struct {
	IdentityCertPEM []byte
	PermissionsDoc  []byte
	ParticipantData []byte
	SignatureAlgo   string
	KeyAgreeAlgo    KeyAgreementAlgo
	Challenge1      Challenge
	DH1             [32]byte
	HashC1          [32]byte
}

// HashCn hashes the concatenation of the fields RustDDS's authentication.rs
// covers by hash(Cn): cert, permissions, participant data, algorithm
// names, challenge, and DH public key, in that fixed order.
func HashCn(certPEM, permissionsDoc, participantData []byte, sigAlgo string, kagreeAlgo KeyAgreementAlgo, challenge Challenge, dhPublic [32]byte) [32]byte {
	h := sha256.New()
	h.Write(certPEM)
	h.Write(permissionsDoc)
	h.Write(participantData)
	h.Write([]byte(sigAlgo))
	h.Write([]byte{byte(kagreeAlgo)})
	h.Write(challenge[:])
	h.Write(dhPublic[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func NewHandshakeRequestToken(identityCertPEM, permissionsDoc, participantData []byte, sigAlgo string, kagreeAlgo KeyAgreementAlgo, dh1 DHKeyPair) (HandshakeRequestToken, Challenge, error) {
	challenge1, err := NewChallenge()
	if err != nil {
		return HandshakeRequestToken{}, Challenge{}, err
	}
	hash := HashCn(identityCertPEM, permissionsDoc, participantData, sigAlgo, kagreeAlgo, challenge1, dh1.Public)
	return HandshakeRequestToken{
		IdentityCertPEM: identityCertPEM,
		PermissionsDoc:  permissionsDoc,
		ParticipantData: participantData,
		SignatureAlgo:   sigAlgo,
		KeyAgreeAlgo:    kagreeAlgo,
		Challenge1:      challenge1,
		DH1:             dh1.Public,
		HashC1:          hash,
	}, challenge1, nil
}

// HandshakeReplyToken is sent by the responder in PendingRequestMessage.
type HandshakeReplyToken struct {
	IdentityCertPEM []byte
	PermissionsDoc  []byte
	ParticipantData []byte
	SignatureAlgo   string
	KeyAgreeAlgo    KeyAgreementAlgo
	Challenge2      Challenge
	DH2             [32]byte
	HashC2          [32]byte
	Signature       []byte // over hash(C2) || challenge2 || dh2 || challenge1 || dh1 || hash(C1)
}

// BeginHandshakeReply implements spec.md §4.7 step 2: the responder
// recomputes and checks hash(C1), generates dh2/challenge2, and signs the
// tuple the initiator will verify in step 3.
func BeginHandshakeReply(req HandshakeRequestToken, localCertPEM, localPermissionsDoc, localParticipantData []byte, sigAlgo string, signer *ecdsa.PrivateKey) (HandshakeReplyToken, DHKeyPair, error) {
	expectedHashC1 := HashCn(req.IdentityCertPEM, req.PermissionsDoc, req.ParticipantData, req.SignatureAlgo, req.KeyAgreeAlgo, req.Challenge1, req.DH1)
	if expectedHashC1 != req.HashC1 {
		return HandshakeReplyToken{}, DHKeyPair{}, fmt.Errorf("security: hash(C1) mismatch, request token corrupted or forged")
	}

	dh2, err := GenerateDHKeyPair(req.KeyAgreeAlgo)
	if err != nil {
		return HandshakeReplyToken{}, DHKeyPair{}, err
	}
	challenge2, err := NewChallenge()
	if err != nil {
		return HandshakeReplyToken{}, DHKeyPair{}, err
	}
	hashC2 := HashCn(localCertPEM, localPermissionsDoc, localParticipantData, sigAlgo, req.KeyAgreeAlgo, challenge2, dh2.Public)

	toSign := concatForSignature(hashC2[:], challenge2[:], dh2.Public[:], req.Challenge1[:], req.DH1[:], req.HashC1[:])
	sig, err := signECDSA(signer, toSign)
	if err != nil {
		return HandshakeReplyToken{}, DHKeyPair{}, err
	}

	return HandshakeReplyToken{
		IdentityCertPEM: localCertPEM,
		PermissionsDoc:  localPermissionsDoc,
		ParticipantData: localParticipantData,
		SignatureAlgo:   sigAlgo,
		KeyAgreeAlgo:    req.KeyAgreeAlgo,
		Challenge2:      challenge2,
		DH2:             dh2.Public,
		HashC2:          hashC2,
		Signature:       sig,
	}, dh2, nil
}

// HandshakeFinalToken is sent by the initiator in PendingReplyMessage.
type HandshakeFinalToken struct {
	Signature []byte // over hash(C1) || challenge1 || dh1 || challenge2 || dh2 || hash(C2)
}

// ProcessHandshakeReply implements spec.md §4.7 step 3: the initiator
// validates the reply's signature, confirms the proposed algorithm and
// echoed challenge1, derives the shared secret, and signs the final tuple.
func ProcessHandshakeReply(req HandshakeRequestToken, dh1 DHKeyPair, reply HandshakeReplyToken, peerPublicKey *ecdsa.PublicKey, localSigner *ecdsa.PrivateKey) (HandshakeFinalToken, []byte, error) {
	if reply.KeyAgreeAlgo != req.KeyAgreeAlgo {
		return HandshakeFinalToken{}, nil, fmt.Errorf("security: responder changed key-agreement algorithm")
	}
	expectedHashC2 := HashCn(reply.IdentityCertPEM, reply.PermissionsDoc, reply.ParticipantData, reply.SignatureAlgo, reply.KeyAgreeAlgo, reply.Challenge2, reply.DH2)
	if expectedHashC2 != reply.HashC2 {
		return HandshakeFinalToken{}, nil, fmt.Errorf("security: hash(C2) mismatch")
	}
	signed := concatForSignature(reply.HashC2[:], reply.Challenge2[:], reply.DH2[:], req.Challenge1[:], req.DH1[:], req.HashC1[:])
	if err := verifyECDSA(peerPublicKey, signed, reply.Signature); err != nil {
		return HandshakeFinalToken{}, nil, fmt.Errorf("security: reply signature invalid: %w", err)
	}

	sharedSecret, err := SharedSecret(dh1, reply.DH2)
	if err != nil {
		return HandshakeFinalToken{}, nil, err
	}

	toSign := concatForSignature(req.HashC1[:], req.Challenge1[:], req.DH1[:], reply.Challenge2[:], reply.DH2[:], reply.HashC2[:])
	sig, err := signECDSA(localSigner, toSign)
	if err != nil {
		return HandshakeFinalToken{}, nil, err
	}
	return HandshakeFinalToken{Signature: sig}, sharedSecret, nil
}

// ProcessHandshakeFinal implements spec.md §4.7 step 4: the responder
// verifies the final signature and derives the same shared secret from
// the other side of the same DH exchange.
func ProcessHandshakeFinal(req HandshakeRequestToken, reply HandshakeReplyToken, dh2 DHKeyPair, final HandshakeFinalToken, peerPublicKey *ecdsa.PublicKey) ([]byte, error) {
	signed := concatForSignature(req.HashC1[:], req.Challenge1[:], req.DH1[:], reply.Challenge2[:], reply.DH2[:], reply.HashC2[:])
	if err := verifyECDSA(peerPublicKey, signed, final.Signature); err != nil {
		return nil, fmt.Errorf("security: final signature invalid: %w", err)
	}
	return SharedSecret(dh2, req.DH1)
}

func concatForSignature(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func signECDSA(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return ecdsa.SignASN1(rand.Reader, key, digest[:])
}

func verifyECDSA(pub *ecdsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// SharedSecretHandle is what both sides derive on completion, per
// spec.md §4.7: "both sides derive a SharedSecretHandle carrying
// (challenge1, challenge2, shared-secret)".
type SharedSecretHandle struct {
	Challenge1   Challenge
	Challenge2   Challenge
	SharedSecret []byte
}

// DeriveKeyMaterial runs HKDF-SHA256 over the shared secret, salted with
// both challenges, to seed downstream cryptographic key material —
// RustDDS derives its crypto-plugin session keys the same way, from the
// same handle.
func (h SharedSecretHandle) DeriveKeyMaterial(info string, length int) ([]byte, error) {
	salt := append(append([]byte{}, h.Challenge1[:]...), h.Challenge2[:]...)
	kdf := hkdf.New(sha256.New, h.SharedSecret, salt, []byte(info))
	out := make([]byte, length)
	if _, err := kdf.Read(out); err != nil {
		return nil, fmt.Errorf("security: HKDF derive %s: %w", info, err)
	}
	return out, nil
}

// Initiator decides which side of a peer relationship drives the
// handshake, per spec.md §4.7: "Initiator is the participant whose
// guid-prefix is lexicographically smaller."
func Initiator(local, remote guid.Prefix) bool {
	return local.Compare(remote) < 0
}

// ECDSAPublicKeyFromCertificate extracts the peer's public key for
// signature verification; PKI-DH per spec.md assumes ECDSA-signed
// identity certificates.
func ECDSAPublicKeyFromCertificate(identity *Identity) (*ecdsa.PublicKey, error) {
	pub, ok := identity.Certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("security: identity certificate does not carry an ECDSA public key")
	}
	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("security: unsupported ECDSA curve %s", pub.Curve.Params().Name)
	}
	return pub, nil
}

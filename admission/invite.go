package admission

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
	"github.com/tv42/zbase32"
)

// Structs

// Invite is a one-time keypair bound to the root of a space.
// Whoever holds the token can derive the private half and
// sign a pairing request the inviter will accept once.
type Invite struct {
	ID   string
	Root oplog.WriterID
	seed []byte
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// Functions

// CreateInvite draws a fresh seed and derives
// an invite for the space rooted at root.
func CreateInvite(root oplog.WriterID) (*Invite, error) {

	if !root.Valid() {
		return nil, errors.Errorf("invalid root '%s'", root.Short())
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, errors.Wrap(err, "failed to draw invite seed")
	}

	return deriveInvite(seed, root)
}

// DecodeInvite parses an invite token back into the
// invite it was created from.
func DecodeInvite(token string) (*Invite, error) {

	raw, err := zbase32.DecodeString(token)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidToken, "not z-base-32 (%v)", err)
	}

	if len(raw) != ed25519.SeedSize+ed25519.PublicKeySize {
		return nil, errors.Wrapf(ErrInvalidToken, "%d bytes instead of %d", len(raw), ed25519.SeedSize+ed25519.PublicKeySize)
	}

	root := oplog.NewWriterID(ed25519.PublicKey(raw[ed25519.SeedSize:]))

	return deriveInvite(raw[:ed25519.SeedSize], root)
}

func deriveInvite(seed []byte, root oplog.WriterID) (*Invite, error) {

	rootKey, err := root.PublicKey()
	if err != nil {
		return nil, err
	}

	// Key material depends on both halves, so a seed
	// replayed against another space yields another key.
	h := sha256.New()
	h.Write([]byte("gallery-invite"))
	h.Write(seed)
	h.Write(rootKey)

	priv := ed25519.NewKeyFromSeed(h.Sum(nil))
	pub := priv.Public().(ed25519.PublicKey)

	return &Invite{
		ID:   InviteID(pub),
		Root: root,
		seed: append([]byte(nil), seed...),
		pub:  pub,
		priv: priv,
	}, nil
}

// InviteID derives the identifier under which an
// invite with public key pub is announced.
func InviteID(pub ed25519.PublicKey) string {

	sum := sha256.Sum256(append([]byte("gallery-invite-id:"), pub...))

	return hex.EncodeToString(sum[:16])
}

// Token returns the human shareable form of inv.
// It is empty once inv was wiped.
func (inv *Invite) Token() string {

	if inv.Wiped() {
		return ""
	}

	rootKey, err := inv.Root.PublicKey()
	if err != nil {
		return ""
	}

	raw := make([]byte, 0, len(inv.seed)+len(rootKey))
	raw = append(raw, inv.seed...)
	raw = append(raw, rootKey...)

	return zbase32.EncodeToString(raw)
}

// PublicKey returns the public half of the invite keypair.
func (inv *Invite) PublicKey() ed25519.PublicKey {
	return inv.pub
}

// Wipe zeroes the secret material of inv.
func (inv *Invite) Wipe() {

	for i := range inv.seed {
		inv.seed[i] = 0
	}

	for i := range inv.priv {
		inv.priv[i] = 0
	}

	inv.seed = nil
	inv.priv = nil
}

// Wiped reports whether Wipe was called on inv.
func (inv *Invite) Wiped() bool {
	return inv.priv == nil
}

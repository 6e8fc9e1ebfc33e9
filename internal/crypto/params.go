package crypto

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

// rfc3526Group14 is the 2048-bit MODP prime from RFC 3526 §3, generator 2.
const rfc3526Group14 = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

// DomainParams is the Diffie-Hellman group shared by every key operation.
// Values are copied in and out, so a DomainParams never changes once built.
type DomainParams struct {
	p *big.Int
	g *big.Int
}

// NewDomainParams validates 2 <= g < p and p > 3. Primality of p is trusted.
func NewDomainParams(p, g *big.Int) (*DomainParams, error) {
	if p == nil || g == nil {
		return nil, fmt.Errorf("%w: missing p or g", ErrInvalidParams)
	}
	if p.Cmp(big.NewInt(3)) <= 0 {
		return nil, fmt.Errorf("%w: p too small", ErrInvalidParams)
	}
	if g.Cmp(big.NewInt(2)) < 0 || g.Cmp(p) >= 0 {
		return nil, fmt.Errorf("%w: g out of range", ErrInvalidParams)
	}
	return &DomainParams{p: new(big.Int).Set(p), g: new(big.Int).Set(g)}, nil
}

// DefaultDomainParams returns the RFC 3526 2048-bit MODP group.
func DefaultDomainParams() *DomainParams {
	p, _ := new(big.Int).SetString(rfc3526Group14, 16)
	return &DomainParams{p: p, g: big.NewInt(2)}
}

// P returns a copy of the modulus.
func (d *DomainParams) P() *big.Int { return new(big.Int).Set(d.p) }

// G returns a copy of the generator.
func (d *DomainParams) G() *big.Int { return new(big.Int).Set(d.g) }

// Equal reports whether both groups have the same p and g.
func (d *DomainParams) Equal(o *DomainParams) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.p.Cmp(o.p) == 0 && d.g.Cmp(o.g) == 0
}

// Fingerprint identifies the group; key pairs are bound to it at rest.
func (d *DomainParams) Fingerprint() string {
	sum := sha256.Sum256([]byte(d.p.Text(16) + ":" + d.g.Text(16)))
	return fmt.Sprintf("%x", sum[:8])
}

// validPublic reports whether v lies in [2, p-2].
func (d *DomainParams) validPublic(v *big.Int) bool {
	upper := new(big.Int).Sub(d.p, big.NewInt(2))
	return v.Cmp(big.NewInt(2)) >= 0 && v.Cmp(upper) <= 0
}

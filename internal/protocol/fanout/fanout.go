package fanout

import (
	"context"
	"fmt"
	"math/big"
	"runtime"

	"golang.org/x/sync/errgroup"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
)

// Seal encrypts plaintext for every participant in roster other than sender.
// roster must not be modified while Seal runs. An empty target set yields a
// bundle with no envelopes.
func Seal(
	ctx context.Context,
	suite crypto.Suite,
	params *crypto.DomainParams,
	sender domain.ParticipantID,
	plaintext []byte,
	roster domain.Roster,
) (domain.Bundle, error) {
	ids := Targets(sender, roster)
	envelopes := make([]domain.Envelope, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, id := range ids {
		i, id, pub := i, id, roster[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			env, err := sealFor(suite, params, id, pub, plaintext)
			if err != nil {
				return fmt.Errorf("recipient %s: %w", id, err)
			}
			envelopes[i] = env
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Bundle{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Bundle{}, err
	}
	return domain.Bundle{SenderID: sender, Recipients: envelopes}, nil
}

// Targets returns the roster ids a message from sender is addressed to, in
// ascending order.
func Targets(sender domain.ParticipantID, roster domain.Roster) []domain.ParticipantID {
	all := roster.IDs()
	out := all[:0]
	for _, id := range all {
		if id != sender {
			out = append(out, id)
		}
	}
	return out
}

func sealFor(
	suite crypto.Suite,
	params *crypto.DomainParams,
	recipient domain.ParticipantID,
	recipientPub *big.Int,
	plaintext []byte,
) (domain.Envelope, error) {
	eph, err := crypto.GenerateKeyPair(suite.Rand, params)
	if err != nil {
		return domain.Envelope{}, err
	}
	secret, err := crypto.ComputeSharedSecret(eph.Private, recipientPub, params)
	eph.Wipe()
	if err != nil {
		return domain.Envelope{}, err
	}
	key, err := suite.DeriveKey(secret)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer key.Wipe()

	nonce, ct, err := suite.Seal(key, plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		RecipientID:        recipient,
		SenderEphemeralKey: eph.Public,
		Nonce:              nonce,
		Ciphertext:         ct,
	}, nil
}

// Open decrypts env with the local identity private key.
func Open(
	suite crypto.Suite,
	params *crypto.DomainParams,
	identity *crypto.KeyPair,
	env domain.Envelope,
) ([]byte, error) {
	if identity == nil || identity.Private == nil {
		return nil, fmt.Errorf("fanout: no identity private key")
	}
	secret, err := crypto.ComputeSharedSecret(identity.Private, env.SenderEphemeralKey, params)
	if err != nil {
		return nil, err
	}
	key, err := suite.DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	return suite.Open(key, env.Nonce, env.Ciphertext)
}

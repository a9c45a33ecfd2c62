package config

import (
	"context"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/relay"
)

// identityMarkerPrefix names the on-relay marker a client places to claim
// its pseudonym, resolving the §9 Open Question ("behavior when two
// clients share the same pseudonym is undefined in the source") by
// rejecting the duplicate at startup.
const identityMarkerPrefix = ".identity."

// ClaimIdentity probes the relay for an existing identity marker for
// pseudonym; if one is present and was not placed by this process
// (different session token), it returns a ConfigError. Otherwise it
// places (or refreshes) the marker and returns nil.
func ClaimIdentity(ctx context.Context, adapter relay.Adapter, pseudonym, sessionToken string) error {
	const op = "config.ClaimIdentity"
	name := identityMarkerPrefix + pseudonym

	existing, err := adapter.Get(ctx, name)
	if err != nil && !errors.Is(errors.NotExist, err) {
		return errors.E(op, errors.RelayTransient, err)
	}
	if err == nil && string(existing) != sessionToken {
		return errors.E(op, errors.ConfigError,
			errors.Errorf("pseudonym %q is already claimed by another client", pseudonym))
	}
	if err := adapter.Put(ctx, name, []byte(sessionToken)); err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}
	return nil
}

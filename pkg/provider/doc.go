/*
Package provider implements the acquisition strategies that source proxy
endpoints for the broker.

The package exposes a Provider interface with a single capability,
Acquire(region, purpose), and one implementation per provider kind. Each
instance owns its session and rotation state privately; there is no shared
mutable base state between providers.

Provider kinds:

 1. StaticListProvider ("static_list"):
    Round-robin over a fixed, pre-parsed pool of endpoint descriptors.
    The cycle index is a single atomic counter, so concurrent
    acquisitions never receive a duplicate index before a full wrap.

 2. BrightDataProvider ("brightdata"):
    Dynamic session generation against a vendor super-proxy. Every call
    yields a distinct session token embedded in the proxy username
    together with the encoded region.

 3. MooProxyProvider ("mooproxy"):
    Static mode cycles pre-generated session entries of the form
    host:port:user:pass_country-XX_session-ID; dynamic mode synthesizes a
    new session id and password suffix per call.

Construction goes through New, which switches on the config type tag:

	p, err := provider.New(cfg, logger)
	if err != nil { ... }
	ep, err := p.Acquire("US", "registration")

Errors are classified by two sentinels: ErrConfiguration for malformed
configuration detected at load time (empty static pools, missing
credentials, bad option values) and ErrGeneration for failures to produce
a valid endpoint (malformed session entries, invalid synthesis input).
Check them with errors.Is.

Providers hand out endpoint values and perform no network I/O; admission
control and metering belong to the manager and meter packages.
*/
package provider

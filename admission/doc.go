/*
Package admission implements the handshake by which a peer holding an invite
token becomes a writer of a space.

The inviter creates an Invite, a one-time ed25519 keypair derived from a random
seed and the root of its space, and shares its token. The candidate decodes the
token, signs a Request with the invite's private key and sends it to any reachable
inviter. The inviter verifies the request against the invite public key and the
root of its own space before reading the candidate key out of it, appends the
AddWriter and answers with a Confirm. The candidate then waits, with a bound, for
its own AddWriter to reach it through replication.
*/
package admission

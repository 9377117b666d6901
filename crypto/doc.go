/*
Package crypto provides the basis for secure communication between gallery peers. Each peer
owns one ed25519 identity: its public key is the writer identity of the peer's log, and the
same key signs the self-signed certificate the peer presents on every TLS connection. The
package also derives the capability tokens that peers attach to replication requests.
*/
package crypto

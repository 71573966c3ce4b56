// Package crypto provides the identifiers and key material used by the
// pure-Go DHT engine and the key canonicalizer.
//
// # Identifiers
//
// Every key and every node in the DHT is addressed by a 160-bit [ID], the
// SHA-1 digest of some input. Keys are hashed with [Sum]; node identifiers are
// derived from the node's public key with [IDFromPublicKey]:
//
//	key := crypto.Sum([]byte("foo"))
//	fmt.Println(key.String()) // 40 hex characters
//
// Distances between identifiers use the Kademlia XOR metric:
//
//	d := a.Distance(b)
//	if d.Less(a.Distance(c)) {
//	    // b is closer to a than c
//	}
//
// # Key Pairs
//
// Node identity is a NaCl crypto_box (Curve25519) key pair generated through
// golang.org/x/crypto:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id := crypto.IDFromPublicKey(keys.Public)
//
// The key pair only gives a node a stable, collision-free identifier. The
// engine does not encrypt or sign its traffic.
package crypto

package data

import "golang.org/x/crypto/blake2b"

// ResourceID maps a resource name to the opaque 64-bit id the resource
// database and render devices use. BLAKE2b-64 of the name.
func ResourceID(name string) uint64 {
	if name == "" {
		return 0
	}
	h, _ := blake2b.New(8, nil) // only fails for bad size or key
	h.Write([]byte(name))
	var sum [8]byte
	h.Sum(sum[:0])
	var id uint64
	for _, b := range sum {
		id = id<<8 | uint64(b)
	}
	return id
}

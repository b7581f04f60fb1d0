package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"hash"
)

// SCRAM parameters. The iteration count follows RFC 5802's recommended
// minimum for SHA-256.
const (
	ScramIterCount = 4096
	ScramSaltLen   = 16
)

// GenerateSalt creates a random base64-encoded salt.
func GenerateSalt() (string, error) {
	raw := make([]byte, ScramSaltLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ScramCredentials is the stored derivation of a password:
//
//	SaltedPassword = PBKDF2(password, salt, iterations)
//	ClientKey      = HMAC(SaltedPassword, "Client Key")
//	StoredKey      = H(ClientKey)
//	ServerKey      = HMAC(SaltedPassword, "Server Key")
//
// Only StoredKey/ServerKey persist, so the password cannot be recovered
// from a stolen database file.
type ScramCredentials struct {
	Salt       string `json:"salt"`
	StoredKey  string `json:"stored_key"`
	ServerKey  string `json:"server_key"`
	Iterations int    `json:"iterations"`
}

// GenerateCredentials computes the SCRAM secrets for a password.
func GenerateCredentials(password, salt string, iterations int) (ScramCredentials, error) {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return ScramCredentials{}, err
	}

	salted := PBKDF2([]byte(password), rawSalt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSum(salted, []byte("Client Key"))
	serverKey := hmacSum(salted, []byte("Server Key"))
	storedKey := sha256.Sum256(clientKey)

	return ScramCredentials{
		Salt:       salt,
		StoredKey:  base64.StdEncoding.EncodeToString(storedKey[:]),
		ServerKey:  base64.StdEncoding.EncodeToString(serverKey),
		Iterations: iterations,
	}, nil
}

// VerifyPassword re-derives credentials from the candidate password
// using the stored salt and iteration count and compares stored keys in
// constant time.
func VerifyPassword(password string, stored ScramCredentials) bool {
	derived, err := GenerateCredentials(password, stored.Salt, stored.Iterations)
	if err != nil {
		return false
	}
	a, errA := base64.StdEncoding.DecodeString(derived.StoredKey)
	b, errB := base64.StdEncoding.DecodeString(stored.StoredKey)
	if errA != nil || errB != nil {
		return false
	}
	return hmac.Equal(a, b)
}

func hmacSum(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// PBKDF2 implements RFC 2898 key derivation: each output block is the
// XOR-fold of an iterated HMAC chain seeded with salt || block-index.
func PBKDF2(password, salt []byte, iterations, keyLen int, h func() hash.Hash) []byte {
	prf := hmac.New(h, password)
	blockSize := prf.Size()
	blocks := (keyLen + blockSize - 1) / blockSize

	derived := make([]byte, 0, blocks*blockSize)
	u := make([]byte, blockSize)
	var idx [4]byte

	for block := 1; block <= blocks; block++ {
		binary.BigEndian.PutUint32(idx[:], uint32(block))
		prf.Reset()
		prf.Write(salt)
		prf.Write(idx[:])
		u = prf.Sum(u[:0])

		acc := append([]byte(nil), u...)
		for i := 1; i < iterations; i++ {
			prf.Reset()
			prf.Write(u)
			u = prf.Sum(u[:0])
			for k, b := range u {
				acc[k] ^= b
			}
		}
		derived = append(derived, acc...)
	}
	return derived[:keyLen]
}

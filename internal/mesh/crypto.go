package mesh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
)

// defaultPSK is the well-known Meshtastic default channel key. Single-byte
// PSKs index a derived table: entry 0 and 1 are the base key, higher
// indices increment the final byte.
var defaultPSK = [16]byte{
	0xD4, 0xF1, 0xBB, 0x3A, 0x20, 0x29, 0x07, 0x59,
	0xF0, 0xBC, 0xFF, 0xAB, 0xCF, 0x4E, 0x69, 0x01,
}

func defaultKey(index byte) []byte {
	key := defaultPSK
	if index > 1 {
		key[15] += index - 1
	}
	return key[:]
}

// DeriveKey turns a base64-encoded channel PSK into an AES key. Rules, in
// order: empty input selects default key 0; a single byte indexes the
// 8-entry default table (unknown indices fall back to key 0); 16 or 32
// bytes are used directly; anything else is hashed and truncated to 16.
func DeriveKey(channelKeyB64 string) []byte {
	raw, err := base64.StdEncoding.DecodeString(channelKeyB64)
	if err != nil {
		sum := sha256.Sum256([]byte(channelKeyB64))
		return sum[:16]
	}

	switch len(raw) {
	case 0:
		return defaultKey(0)
	case 1:
		if raw[0] < 8 {
			return defaultKey(raw[0])
		}
		return defaultKey(0)
	case 16, 32:
		return raw
	default:
		sum := sha256.Sum256(raw)
		return sum[:16]
	}
}

// decrypt runs AES-CTR over an encrypted packet payload. The nonce is the
// packet id (LE 8 bytes), the sender id (LE 4 bytes), then 4 zero bytes,
// matching the published Meshtastic wire format.
func decrypt(ciphertext []byte, packetID uint32, fromNode uint32, key []byte) ([]byte, bool) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false
	}

	var nonce [16]byte
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(packetID))
	binary.LittleEndian.PutUint32(nonce[8:12], fromNode)

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, nonce[:]).XORKeyStream(plaintext, ciphertext)
	return plaintext, true
}

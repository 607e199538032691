// SPDX-License-Identifier: GPL-3.0-or-later

// Package esp implements the ESP (IP-Encapsulating-Security-Payload)
// datapath: session-key provisioning, per-packet HMAC verification, CBC
// decryption, padding/next-header validation, and the reconnect/rekey
// lifecycle that keeps the tunnel alive across transient failures.
package esp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"hash"

	"github.com/bassosimone/runtimex"

	"github.com/bassosimone/oncp"
)

// CipherKind identifies the ESP block cipher, encoded as the wire suite
// id byte negotiated for esp_enc.
type CipherKind byte

const (
	CipherAES128 CipherKind = 0x02
	CipherAES256 CipherKind = 0x05
)

// keySize returns the encryption key length for k, or 0 if k is not a
// supported cipher.
func (k CipherKind) keySize() int {
	switch k {
	case CipherAES128:
		return 16
	case CipherAES256:
		return 32
	default:
		return 0
	}
}

// HMACKind identifies the ESP integrity algorithm, encoded as the wire
// suite id byte negotiated for esp_hmac.
type HMACKind byte

const (
	HMACMD5  HMACKind = 0x01
	HMACSHA1 HMACKind = 0x02
)

// keySize returns the MAC key length for k (equal to the underlying
// hash's output length), or 0 if k is not supported.
func (k HMACKind) keySize() int {
	switch k {
	case HMACMD5:
		return md5.Size
	case HMACSHA1:
		return sha1.Size
	default:
		return 0
	}
}

func (k HMACKind) new() func() hash.Hash {
	switch k {
	case HMACMD5:
		return md5.New
	case HMACSHA1:
		return sha1.New
	default:
		return nil
	}
}

const (
	blockSize = aes.BlockSize
	// macLen is the truncated HMAC length appended to every ESP
	// datagram, regardless of the underlying hash's native size.
	macLen = 12

	ivOffset  = 8
	ivLen     = blockSize
	spiLen    = 4
	seqLen    = 4
	headerLen = spiLen + seqLen // 8, offset where the IV begins
)

const (
	nextHeaderIPv4 = 0x04
	nextHeaderIPv6 = 0x29
)

// Direction holds one direction's (inbound or outbound) key material
// and derived cipher/HMAC state. A zero Direction is not ready for use;
// construct with [NewDirection].
type Direction struct {
	SPI      [4]byte
	EncKey   []byte
	HMACKey  []byte
	block    cipher.Block
	hmacNew  func() hash.Hash
	sequence uint32
}

// NewDirection derives a ready-to-use [*Direction] from a suite and key
// material. encKey and hmacKey must match the sizes cipherKind/hmacKind
// require.
func NewDirection(spi [4]byte, cipherKind CipherKind, hmacKind HMACKind, encKey, hmacKey []byte) (*Direction, error) {
	if cipherKind.keySize() == 0 {
		return nil, oncp.NewError(oncp.KindUnsupported, "esp.NewDirection", errUnsupportedCipher)
	}
	if hmacKind.keySize() == 0 {
		return nil, oncp.NewError(oncp.KindUnsupported, "esp.NewDirection", errUnsupportedHMAC)
	}
	if len(encKey) != cipherKind.keySize() {
		return nil, oncp.NewError(oncp.KindInvalidArg, "esp.NewDirection", errKeySize)
	}
	if len(hmacKey) != hmacKind.keySize() {
		return nil, oncp.NewError(oncp.KindInvalidArg, "esp.NewDirection", errKeySize)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, oncp.NewError(oncp.KindInvalidArg, "esp.NewDirection", err)
	}

	d := &Direction{
		SPI:     spi,
		EncKey:  encKey,
		HMACKey: hmacKey,
		block:   block,
		hmacNew: hmacKind.new(),
	}
	// cipher and hmac state are derived together; there is no path
	// that leaves one set without the other.
	runtimex.Assert(d.block != nil && d.hmacNew != nil)
	return d, nil
}

// RandomKeys draws a fresh SPI and key pair from crypto/rand for a
// [Direction], in a single CSPRNG read covering spi ∥ secrets.
func RandomKeys(cipherKind CipherKind, hmacKind HMACKind) (spi [4]byte, encKey, hmacKey []byte, err error) {
	total := 4 + cipherKind.keySize() + hmacKind.keySize()
	if cipherKind.keySize() == 0 || hmacKind.keySize() == 0 {
		return spi, nil, nil, oncp.NewError(oncp.KindUnsupported, "esp.RandomKeys", errUnsupportedCipher)
	}
	buf := make([]byte, total)
	if _, err := rand.Read(buf); err != nil {
		return spi, nil, nil, oncp.NewError(oncp.KindIo, "esp.RandomKeys", err)
	}
	copy(spi[:], buf[:4])
	encKey = buf[4 : 4+cipherKind.keySize()]
	hmacKey = buf[4+cipherKind.keySize():]
	return spi, encKey, hmacKey, nil
}

// Decrypt verifies and decrypts one inbound ESP datagram, returning the
// enclosed payload and its next-header value.
//
// Mirrors decrypt_and_queue_esp_packet byte-for-byte: SPI match, HMAC
// over the first len-12 bytes in constant time, IV at bytes 8..24,
// CBC-decrypt the remainder up to the trailing MAC, then validate
// pad_len/next_header from the plaintext's last two bytes.
func (d *Direction) Decrypt(datagram []byte) (payload []byte, nextHeader byte, err error) {
	const minLen = headerLen + ivLen + blockSize + macLen
	if len(datagram) < minLen {
		return nil, 0, oncp.NewError(oncp.KindBadPacket, "esp.Decrypt", errTooShort)
	}

	if subtle.ConstantTimeCompare(datagram[:spiLen], d.SPI[:]) != 1 {
		return nil, 0, oncp.NewError(oncp.KindBadPacket, "esp.Decrypt", errSPIMismatch)
	}

	macOffset := len(datagram) - macLen
	mac := hmac.New(d.hmacNew, d.HMACKey)
	mac.Write(datagram[:macOffset])
	expected := mac.Sum(nil)[:macLen]
	if subtle.ConstantTimeCompare(expected, datagram[macOffset:]) != 1 {
		return nil, 0, oncp.NewError(oncp.KindBadPacket, "esp.Decrypt", errHMACMismatch)
	}

	iv := datagram[ivOffset : ivOffset+ivLen]
	ciphertext := datagram[ivOffset+ivLen : macOffset]
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, 0, oncp.NewError(oncp.KindBadPacket, "esp.Decrypt", errBadCiphertextLen)
	}

	plaintext := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(d.block, iv)
	cbc.CryptBlocks(plaintext, ciphertext)

	if len(plaintext) < 2 {
		return nil, 0, oncp.NewError(oncp.KindBadPacket, "esp.Decrypt", errTooShort)
	}
	nextHeader = plaintext[len(plaintext)-1]
	padLen := int(plaintext[len(plaintext)-2])
	if nextHeader != nextHeaderIPv4 && nextHeader != nextHeaderIPv6 {
		return nil, 0, oncp.NewError(oncp.KindBadPacket, "esp.Decrypt", errUnsupportedNextHeader)
	}
	if padLen+2 > len(plaintext) {
		return nil, 0, oncp.NewError(oncp.KindBadPacket, "esp.Decrypt", errBadPadLen)
	}

	payload = plaintext[:len(plaintext)-2-padLen]
	return payload, nextHeader, nil
}

// Encrypt builds one outbound ESP datagram carrying payload, mirroring
// Decrypt: prepend SPI and an incrementing sequence number, a fresh
// random IV, CBC-encrypt payload plus RFC-4303-style incrementing
// padding and the pad_len/next_header trailer, then append a truncated
// HMAC over everything but itself.
func (d *Direction) Encrypt(payload []byte, nextHeader byte) ([]byte, error) {
	padLen := (blockSize - ((len(payload) + 2) % blockSize)) % blockSize

	plaintext := make([]byte, len(payload)+padLen+2)
	copy(plaintext, payload)
	for i := 0; i < padLen; i++ {
		plaintext[len(payload)+i] = byte(i + 1)
	}
	plaintext[len(plaintext)-2] = byte(padLen)
	plaintext[len(plaintext)-1] = nextHeader

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, oncp.NewError(oncp.KindIo, "esp.Encrypt", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cbc := cipher.NewCBCEncrypter(d.block, iv)
	cbc.CryptBlocks(ciphertext, plaintext)

	d.sequence++
	datagram := make([]byte, 0, headerLen+ivLen+len(ciphertext)+macLen)
	datagram = append(datagram, d.SPI[:]...)
	datagram = appendUint32(datagram, d.sequence)
	datagram = append(datagram, iv...)
	datagram = append(datagram, ciphertext...)

	mac := hmac.New(d.hmacNew, d.HMACKey)
	mac.Write(datagram)
	datagram = append(datagram, mac.Sum(nil)[:macLen]...)

	return datagram, nil
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

var errUnsupportedCipher = espErr("unsupported ESP cipher suite")
var errUnsupportedHMAC = espErr("unsupported ESP HMAC suite")
var errKeySize = espErr("key material does not match suite")
var errTooShort = espErr("datagram too short")
var errSPIMismatch = espErr("SPI mismatch")
var errHMACMismatch = espErr("HMAC verification failed")
var errBadCiphertextLen = espErr("ciphertext is not a whole number of blocks")
var errUnsupportedNextHeader = espErr("unsupported next header")
var errBadPadLen = espErr("invalid padding length")

type espErr string

func (e espErr) Error() string { return string(e) }

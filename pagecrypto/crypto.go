// Package pagecrypto implements per-page AES/CTR encryption: a root key
// protects header pages and bootstraps a
// per-database data key, which in turn protects every other page with a
// deterministic, page-id-derived IV.
package pagecrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
)

const (
	// KeySize is the default AES-128 key size in bytes.
	KeySize = 16
	// ivSize is the AES block size, also used as the IV size.
	ivSize = aes.BlockSize
	// MaxBlockLen is the largest tail-encoded block this codec supports:
	// the length byte stores length-1, so length must fit in a byte.
	MaxBlockLen = 256
)

// ErrCorruptTail is returned when a header page's tail cannot be decoded
// (truncated page, or a length byte pointing past the start of the page).
var ErrCorruptTail = errors.New("pagecrypto: corrupt header page tail")

// ErrBlockTooLarge is returned when encodeBlock is asked to encode more
// than MaxBlockLen bytes.
var ErrBlockTooLarge = errors.New("pagecrypto: block exceeds max length")

// Crypto holds a database's root key and (once generated) its per-database
// data key, and performs header/data page encryption.
type Crypto struct {
	rootKey   []byte
	rootBlock cipher.Block

	dataKey    []byte
	dataIVSalt []byte
	dataBlock  cipher.Block
}

// New creates a Crypto from rootKey (exactly KeySize bytes). Pass nil to
// generate a random root key (callers wanting to persist it should read it
// back via RootKey).
func New(rootKey []byte) (*Crypto, error) {
	if rootKey == nil {
		rootKey = make([]byte, KeySize)
		if _, err := rand.Read(rootKey); err != nil {
			return nil, err
		}
	}

	if len(rootKey) != KeySize {
		return nil, errors.New("pagecrypto: root key must be 16 bytes")
	}

	block, err := aes.NewCipher(rootKey)
	if err != nil {
		return nil, err
	}

	return &Crypto{rootKey: rootKey, rootBlock: block}, nil
}

// RootKey returns the root key in use.
func (c *Crypto) RootKey() []byte { return c.rootKey }

// HasDataKey reports whether the per-database data key has been generated
// yet (it is created lazily on first header page encryption, or restored
// by DecryptHeaderPage on open).
func (c *Crypto) HasDataKey() bool { return c.dataBlock != nil }

func (c *Crypto) ensureDataKey() error {
	if c.dataBlock != nil {
		return nil
	}

	dataKey := make([]byte, KeySize)
	if _, err := rand.Read(dataKey); err != nil {
		return err
	}

	salt := make([]byte, ivSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return err
	}

	c.dataKey, c.dataIVSalt, c.dataBlock = dataKey, salt, block

	return nil
}

// encodeBlock appends block's bytes followed by a single length-1 byte,
// the tail-layout convention header pages use.
func encodeBlock(buf, block []byte) ([]byte, error) {
	if len(block) == 0 || len(block) > MaxBlockLen {
		return nil, ErrBlockTooLarge
	}

	buf = append(buf, block...)
	buf = append(buf, byte(len(block)-1))

	return buf, nil
}

// decodeBlockFromTail reads one block ending at page[:end], walking
// backward, and returns the block plus the new end (the offset of the
// start of this block, for the next call to chain from).
func decodeBlockFromTail(page []byte, end int) ([]byte, int, error) {
	if end < 1 {
		return nil, 0, ErrCorruptTail
	}

	length := int(page[end-1]) + 1
	start := end - 1 - length

	if start < 0 {
		return nil, 0, ErrCorruptTail
	}

	return page[start : end-1], start, nil
}

// TailSize reports how many bytes of a header page are consumed by the
// tail-encoded key material, so a caller storing its own payload in the
// leading bytes of a header page (the body EncryptHeaderPage/
// DecryptHeaderPage operate on) knows how much room it actually has.
func TailSize() int { return tailSize() }

// tailSize is the total bytes three encoded blocks of size ivSize/KeySize
// occupy at a header page's tail.
func tailSize() int {
	return (ivSize + 1) + (ivSize + 1) + (KeySize + 1)
}

// EncryptHeaderPage encrypts body under the root key with a fresh random
// IV, and appends the tail-encoded {dataKey, dataIVSalt, headerIV}
// blocks, generating the data key on first call. The
// returned page is len(body)+tailSize() bytes.
func (c *Crypto) EncryptHeaderPage(body []byte) ([]byte, error) {
	if err := c.ensureDataKey(); err != nil {
		return nil, err
	}

	headerIV := make([]byte, ivSize)
	if _, err := rand.Read(headerIV); err != nil {
		return nil, err
	}

	stream := cipher.NewCTR(c.rootBlock, headerIV)

	bodyCT := make([]byte, len(body))
	stream.XORKeyStream(bodyCT, body)

	secret := make([]byte, 0, ivSize+KeySize)
	secret = append(secret, c.dataIVSalt...)
	secret = append(secret, c.dataKey...)

	secretCT := make([]byte, len(secret))
	stream.XORKeyStream(secretCT, secret)

	dataIVSaltCT := secretCT[:ivSize]
	dataKeyCT := secretCT[ivSize:]

	page := make([]byte, 0, len(bodyCT)+tailSize())
	page = append(page, bodyCT...)

	page, err := encodeBlock(page, dataKeyCT)
	if err != nil {
		return nil, err
	}

	page, err = encodeBlock(page, dataIVSaltCT)
	if err != nil {
		return nil, err
	}

	page, err = encodeBlock(page, headerIV) // tail-encoded but not encrypted
	if err != nil {
		return nil, err
	}

	return page, nil
}

// DecryptHeaderPage reverses EncryptHeaderPage, restoring the data key and
// IV salt on this Crypto as a side effect (so a freshly-opened database
// recovers its data key from the header page rather than needing it
// supplied separately).
func (c *Crypto) DecryptHeaderPage(page []byte) (body []byte, err error) {
	end := len(page)

	headerIV, end, err := decodeBlockFromTail(page, end)
	if err != nil {
		return nil, err
	}

	dataIVSaltCT, end, err := decodeBlockFromTail(page, end)
	if err != nil {
		return nil, err
	}

	dataKeyCT, bodyEnd, err := decodeBlockFromTail(page, end)
	if err != nil {
		return nil, err
	}

	stream := cipher.NewCTR(c.rootBlock, headerIV)

	bodyPT := make([]byte, bodyEnd)
	stream.XORKeyStream(bodyPT, page[:bodyEnd])

	secretCT := make([]byte, 0, len(dataIVSaltCT)+len(dataKeyCT))
	secretCT = append(secretCT, dataIVSaltCT...)
	secretCT = append(secretCT, dataKeyCT...)

	secret := make([]byte, len(secretCT))
	stream.XORKeyStream(secret, secretCT)

	dataIVSalt := secret[:ivSize]
	dataKey := secret[ivSize:]

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}

	c.dataKey, c.dataIVSalt, c.dataBlock = dataKey, dataIVSalt, block

	return bodyPT, nil
}

// pageIV derives the deterministic per-page IV for a data page: encrypt
// the little-endian page id (zero-padded to block size) under the data
// key, then XOR with the data IV salt.
func (c *Crypto) pageIV(pageID int64) []byte {
	var idBlock [ivSize]byte

	binary.LittleEndian.PutUint64(idBlock[:8], uint64(pageID))

	ct := make([]byte, ivSize)
	c.dataBlock.Encrypt(ct, idBlock[:])

	for i := range ct {
		ct[i] ^= c.dataIVSalt[i]
	}

	return ct
}

// EncryptDataPage encrypts plaintext for pageID under the data key.
func (c *Crypto) EncryptDataPage(pageID int64, plaintext []byte) []byte {
	return c.xorDataPage(pageID, plaintext)
}

// DecryptDataPage decrypts ciphertext for pageID (CTR mode is symmetric,
// so this is the same operation as EncryptDataPage).
func (c *Crypto) DecryptDataPage(pageID int64, ciphertext []byte) []byte {
	return c.xorDataPage(pageID, ciphertext)
}

func (c *Crypto) xorDataPage(pageID int64, in []byte) []byte {
	stream := cipher.NewCTR(c.dataBlock, c.pageIV(pageID))

	out := make([]byte, len(in))
	stream.XORKeyStream(out, in)

	return out
}

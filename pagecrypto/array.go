package pagecrypto

import (
	"errors"

	"github.com/ledgerkv/ledgerkv/pagestore"
)

// ErrPartialPageUnsupported is returned when a caller asks to read or write
// less than a full page through an EncryptedArray. The encrypting
// transform operates on whole pages (the header page's tail-encoded key
// material in particular makes a partial rewrite meaningless); callers
// needing partial access should do so against the decrypted plaintext
// returned by the caller's own cache, not through this wrapper directly.
var ErrPartialPageUnsupported = errors.New("pagecrypto: partial page read/write not supported")

// EncryptedArray wraps a pagestore.Array, transparently encrypting data
// pages under the per-database data key and header pages under the root
// key. It satisfies pagestore.Array itself, so it can
// be substituted anywhere a plain Array is expected.
type EncryptedArray struct {
	inner   pagestore.Array
	crypto  *Crypto
	pageLen int
}

// NewEncryptedArray wraps inner with crypto. The page length is taken from
// inner.PageSize() and recorded so every read/write can validate
// whole-page access.
func NewEncryptedArray(inner pagestore.Array, crypto *Crypto) *EncryptedArray {
	return &EncryptedArray{inner: inner, crypto: crypto, pageLen: inner.PageSize()}
}

func (a *EncryptedArray) PageSize() int                 { return a.pageLen }
func (a *EncryptedArray) PageCount() (int64, error)     { return a.inner.PageCount() }
func (a *EncryptedArray) Sync(metadata bool) error      { return a.inner.Sync(metadata) }
func (a *EncryptedArray) SyncPage(id pagestore.PageID) error { return a.inner.SyncPage(id) }
func (a *EncryptedArray) Close(cause error) error       { return a.inner.Close(cause) }

// ReadPage reads and decrypts a full page. offset must be 0 and len(buf)
// must equal PageSize().
func (a *EncryptedArray) ReadPage(id pagestore.PageID, buf []byte, offset int) error {
	if offset != 0 || len(buf) != a.pageLen {
		return ErrPartialPageUnsupported
	}

	raw := make([]byte, a.pageLen)
	if err := a.inner.ReadPage(id, raw, 0); err != nil {
		return err
	}

	var plain []byte

	if id.IsHeader() {
		body, err := a.crypto.DecryptHeaderPage(raw)
		if err != nil {
			return err
		}

		plain = make([]byte, a.pageLen)
		copy(plain, body)
	} else {
		plain = a.crypto.DecryptDataPage(int64(id), raw)
	}

	copy(buf, plain)

	return nil
}

// WritePage encrypts and writes a full page. offset must be 0 and len(buf)
// must equal PageSize(). For a header page, only the first
// PageSize()-tailSize() bytes of buf (the body) are meaningful; the tail
// region is computed fresh by EncryptHeaderPage on every write, including a
// new random headerIV, so whatever the caller left there is ignored.
func (a *EncryptedArray) WritePage(id pagestore.PageID, buf []byte, offset int) error {
	if offset != 0 || len(buf) != a.pageLen {
		return ErrPartialPageUnsupported
	}

	var raw []byte

	if id.IsHeader() {
		body := buf[:a.pageLen-tailSize()]

		encoded, err := a.crypto.EncryptHeaderPage(body)
		if err != nil {
			return err
		}

		raw = encoded
	} else {
		raw = a.crypto.EncryptDataPage(int64(id), buf)
	}

	return a.inner.WritePage(id, raw, 0)
}

// CopyPage decrypts src then re-encrypts for dst, since data pages use a
// page-id-derived IV and header pages use a fresh random IV; neither
// ciphertext can simply be copied byte-for-byte onto a different id.
func (a *EncryptedArray) CopyPage(src, dst pagestore.PageID) error {
	buf := make([]byte, a.pageLen)
	if err := a.ReadPage(src, buf, 0); err != nil {
		return err
	}

	return a.WritePage(dst, buf, 0)
}

package keyring

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awnumar/memguard"

	icrypto "github.com/thanatos/keyring/internal/crypto"
)

// Magic is the exact, complete content of the META-INF/MAGIC archive entry.
// It identifies the decrypted archive as a keyring container; any deviation,
// including trailing bytes, is a format mismatch.
const Magic = "application/prs.thanatos.keyring"

const (
	magicEntryName    = "META-INF/MAGIC"
	contentsEntryName = "META-INF/CONTENTS"
	itemEntryPrefix   = "items/"

	// writingSuffix marks the sibling temp file a save is assembled in
	// before the atomic rename over the real path.
	writingSuffix = ".writing"
)

// manifestEntry is one value of the META-INF/CONTENTS JSON object, keyed by
// item name.
type manifestEntry struct {
	Type   string `json:"type"`
	Hidden bool   `json:"hidden,omitempty"`
}

// archive is a disposable read view over the most recently persisted
// container. It is re-derived from the file after every successful save and
// never patched in place.
type archive struct {
	zr *zip.Reader
}

// openArchive reads the file at path, unseals it with the passphrase and
// opens the inner ZIP. Unseal errors pass through untouched so callers can
// distinguish ErrNotKeyring from ErrDecryptionFailed.
func openArchive(path string, passphrase *memguard.Enclave) (*archive, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring file: %w", err)
	}

	plain, err := icrypto.Unseal(sealed, passphrase)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(plain), int64(len(plain)))
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring archive: %w", err)
	}
	return &archive{zr: zr}, nil
}

func (a *archive) entry(name string) *zip.File {
	for _, f := range a.zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// verifyMagic checks the magic entry byte for byte. A missing entry, a
// mismatch, or any trailing data all yield ErrBadMagic; the distinction from
// a wrong passphrase was already made during unsealing.
func (a *archive) verifyMagic() error {
	f := a.entry(magicEntryName)
	if f == nil {
		return ErrBadMagic
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read archive entry %s: %w", magicEntryName, err)
	}
	defer rc.Close()

	// Read one byte past the magic length: an over-length entry is a
	// mismatch even if it starts with the right bytes.
	buf := make([]byte, len(Magic)+1)
	n, err := io.ReadFull(rc, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("failed to read archive entry %s: %w", magicEntryName, err)
	}
	if n != len(Magic) || string(buf[:n]) != Magic {
		return ErrBadMagic
	}
	return nil
}

// loadManifest parses META-INF/CONTENTS into a fresh item index with no
// pending payloads.
func (a *archive) loadManifest() (map[string]*itemRecord, error) {
	f := a.entry(contentsEntryName)
	if f == nil {
		return nil, fmt.Errorf("%w: the %s entry is missing", ErrManifestDecode, contentsEntryName)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry %s: %w", contentsEntryName, err)
	}
	defer rc.Close()

	var manifest map[string]manifestEntry
	if err = json.NewDecoder(rc).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestDecode, err)
	}

	items := make(map[string]*itemRecord, len(manifest))
	for name, entry := range manifest {
		items[name] = &itemRecord{
			contentType: entry.Type,
			hidden:      entry.Hidden,
		}
	}
	return items, nil
}

// readItem decompresses the payload entry for name. The caller has already
// checked the item index, so a missing entry here means the index and the
// archive are out of sync, which is a bug, not user input.
func (a *archive) readItem(name string) ([]byte, error) {
	f := a.entry(itemEntryPrefix + name)
	if f == nil {
		return nil, fmt.Errorf("archive has no %s%s entry for an indexed item; the index is out of sync with the archive", itemEntryPrefix, name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry %s%s: %w", itemEntryPrefix, name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry %s%s: %w", itemEntryPrefix, name, err)
	}
	return data, nil
}

// buildArchive assembles the complete new archive for a save.
//
// Entries carried over from the prior archive are raw-copied: their compressed
// bytes move as-is, without inflate/deflate or re-encryption. That keeps saves
// cheap no matter how large the untouched payloads are, and it is the reason
// unchanged entries stay byte-identical across saves.
func buildArchive(prior *archive, items map[string]*itemRecord, deleted map[string]struct{}) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	if prior != nil {
		for _, f := range prior.zr.File {
			if skipOnRewrite(f.Name, items, deleted) {
				continue
			}
			if err := w.Copy(f); err != nil {
				return nil, fmt.Errorf("failed to carry forward archive entry %s: %w", f.Name, err)
			}
		}
	}

	// Entries with a pending payload get written fresh.
	for name, rec := range items {
		if rec.pending == nil {
			continue
		}
		ew, err := w.Create(itemEntryPrefix + name)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s%s: %w", itemEntryPrefix, name, err)
		}
		if _, err = ew.Write(rec.pending); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s%s: %w", itemEntryPrefix, name, err)
		}
	}

	// The magic entry is stored uncompressed: it is tiny and must decode
	// unambiguously.
	mw, err := w.CreateHeader(&zip.FileHeader{Name: magicEntryName, Method: zip.Store})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive entry %s: %w", magicEntryName, err)
	}
	if _, err = mw.Write([]byte(Magic)); err != nil {
		return nil, fmt.Errorf("failed to write archive entry %s: %w", magicEntryName, err)
	}

	// The manifest is derived strictly from the in-memory index, never from
	// what happens to sit in the prior archive.
	manifest := make(map[string]manifestEntry, len(items))
	for name, rec := range items {
		manifest[name] = manifestEntry{Type: rec.contentType, Hidden: rec.hidden}
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize the keyring manifest: %w", err)
	}
	cw, err := w.Create(contentsEntryName)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive entry %s: %w", contentsEntryName, err)
	}
	if _, err = cw.Write(manifestJSON); err != nil {
		return nil, fmt.Errorf("failed to write archive entry %s: %w", contentsEntryName, err)
	}

	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish the keyring archive: %w", err)
	}
	return buf.Bytes(), nil
}

// sealArchive wraps the assembled archive bytes in the passphrase-sealed
// outer layer.
func sealArchive(zipData []byte, passphrase *memguard.Enclave) ([]byte, error) {
	return icrypto.Seal(zipData, passphrase)
}

// skipOnRewrite reports whether a prior-archive entry must not be carried
// forward: the META-INF entries are always rewritten, deleted items are
// purged, and items with a pending payload are written fresh.
func skipOnRewrite(entryName string, items map[string]*itemRecord, deleted map[string]struct{}) bool {
	switch entryName {
	case magicEntryName, contentsEntryName:
		return true
	}
	itemName, ok := strings.CutPrefix(entryName, itemEntryPrefix)
	if !ok {
		return false
	}
	if rec, ok := items[itemName]; ok && rec.pending != nil {
		return true
	}
	_, gone := deleted[itemName]
	return gone
}

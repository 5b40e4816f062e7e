package keyring

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"

	"github.com/awnumar/memguard"

	"github.com/thanatos/keyring/audit"
	"github.com/thanatos/keyring/internal/mem"
	"github.com/thanatos/keyring/internal/misc"
)

// itemRecord is the in-memory state of one item. Metadata is always resident
// for an open keyring; the payload is only when it has been edited since the
// last save.
type itemRecord struct {
	contentType string
	hidden      bool // reserved; omitted from the manifest while false
	pending     []byte
}

// Keyring is an encrypted container of named, typed secret items backed by a
// single file on disk.
//
// Mutations (SetItem, SetItemRaw, DeleteItem) buffer in memory and take effect
// on disk only when Save is called. Save assembles the complete new container
// in a sibling temp file and atomically renames it over the real path, so a
// crash mid-save can never corrupt the previously committed file.
//
// A Keyring owns its file and index exclusively. It is not safe for
// concurrent use without external synchronization, and nothing guards against
// two processes operating on the same path.
type Keyring struct {
	path       string
	passphrase *memguard.Enclave

	// items maps item name to its in-memory record; deleted holds names
	// removed since the last save that still need purging from the archive.
	// A name is never in both at once.
	items   map[string]*itemRecord
	deleted map[string]struct{}

	// archive views the most recently persisted container. It is nil only
	// between Create and the first Save, and is re-derived from the file
	// after every successful save.
	archive *archive

	audit         audit.Logger
	memLocked     bool
	memProtection mem.ProtectionLevel
}

// Create makes a new keyring at path protected by passphrase and immediately
// persists a valid empty container. It fails with ErrKeyringExists if a file
// is already there; it never overwrites.
func Create(path string, passphrase Secret) (*Keyring, error) {
	return CreateWithOptions(path, passphrase, Options{})
}

// CreateWithOptions is Create with explicit Options.
func CreateWithOptions(path string, passphrase Secret, options Options) (*Keyring, error) {
	k, err := newKeyring(path, passphrase, options)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, misc.FilePermissions)
	if err != nil {
		k.release()
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyringExists, path)
		}
		return nil, fmt.Errorf("failed to create keyring file: %w", err)
	}

	if err = k.saveInto(file); err != nil {
		k.logAudit("create_keyring", err, map[string]interface{}{"path": path})
		k.release()
		return nil, err
	}

	k.logAudit("create_keyring", nil, map[string]interface{}{"path": path})
	return k, nil
}

// Load opens the keyring at path with passphrase.
//
// Failure modes are distinguishable: ErrNotKeyring when the file lacks the
// sealed container header, ErrDecryptionFailed when the passphrase is wrong
// or the ciphertext corrupted, ErrBadMagic when the decrypted archive is not
// a keyring, and ErrManifestDecode when the manifest does not parse.
func Load(path string, passphrase Secret) (*Keyring, error) {
	return LoadWithOptions(path, passphrase, Options{})
}

// LoadWithOptions is Load with explicit Options.
func LoadWithOptions(path string, passphrase Secret, options Options) (*Keyring, error) {
	k, err := newKeyring(path, passphrase, options)
	if err != nil {
		return nil, err
	}

	a, err := openArchive(path, k.passphrase)
	if err == nil {
		err = a.verifyMagic()
	}
	if err == nil {
		k.items, err = a.loadManifest()
	}
	if err != nil {
		k.logAudit("load_keyring", err, map[string]interface{}{"path": path})
		k.release()
		return nil, err
	}

	k.archive = a
	k.logAudit("load_keyring", nil, map[string]interface{}{
		"path":  path,
		"items": len(k.items),
	})
	return k, nil
}

func newKeyring(path string, passphrase Secret, options Options) (*Keyring, error) {
	auditLogger := options.Audit
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	k := &Keyring{
		path:       path,
		passphrase: memguard.NewEnclave([]byte(passphrase.Reveal())),
		items:      make(map[string]*itemRecord),
		deleted:    make(map[string]struct{}),
		audit:      auditLogger,
	}

	if options.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock memory: %w", err)
		}
		k.memLocked = true
		k.memProtection = level
	}

	return k, nil
}

// Save atomically persists the current in-memory state.
//
// The new container is assembled from scratch next to the real file (path +
// ".writing"), fsynced, then moved over the real path with a single rename.
// Payload entries that were not edited are carried over byte for byte from
// the prior archive; only pending payloads are re-encoded. Any failure before
// the rename leaves the committed file completely untouched.
//
// On success the freshly written file is reopened as the new backing archive,
// every pending payload is cleared, and the deleted-name set is emptied.
func (k *Keyring) Save() error {
	tempPath := k.path + writingSuffix

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, misc.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create temporary save file: %w", err)
	}

	if err = k.saveInto(file); err != nil {
		_ = os.Remove(tempPath)
		k.logAudit("save_keyring", err, nil)
		return err
	}

	if err = os.Rename(tempPath, k.path); err != nil {
		_ = os.Remove(tempPath)
		err = fmt.Errorf("failed to move the new keyring into place: %w", err)
		k.logAudit("save_keyring", err, nil)
		return err
	}

	a, err := openArchive(k.path, k.passphrase)
	if err != nil {
		err = fmt.Errorf("failed to reopen the keyring after saving: %w", err)
		k.logAudit("save_keyring", err, nil)
		return err
	}
	k.archive = a

	for _, rec := range k.items {
		rec.pending = nil
	}
	clear(k.deleted)

	k.logAudit("save_keyring", nil, map[string]interface{}{"items": len(k.items)})
	return nil
}

// saveInto assembles, seals and streams the container into file, then syncs
// and closes it. The file is closed in every path.
func (k *Keyring) saveInto(file *os.File) error {
	zipData, err := buildArchive(k.archive, k.items, k.deleted)
	if err != nil {
		_ = file.Close()
		return err
	}

	sealed, err := sealArchive(zipData, k.passphrase)
	if err != nil {
		_ = file.Close()
		return err
	}

	if _, err = file.Write(sealed); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write keyring file: %w", err)
	}
	if err = file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync keyring file: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("failed to close keyring file: %w", err)
	}
	return nil
}

// ItemMetadata returns a lazy, restartable sequence over the (name, content
// type) pairs of the current in-memory state, uncommitted edits included.
// Order is unspecified; sort if determinism matters. The keyring must not be
// mutated while a ranging is in progress.
func (k *Keyring) ItemMetadata() iter.Seq[ItemInfo] {
	return func(yield func(ItemInfo) bool) {
		for name, rec := range k.items {
			if !yield(ItemInfo{Name: name, ContentType: rec.contentType}) {
				return
			}
		}
	}
}

// HasItem reports whether an item with that name is on the keyring.
func (k *Keyring) HasItem(name string) bool {
	_, ok := k.items[name]
	return ok
}

// SetItem serializes item through its codec and stores the result as the
// pending payload for name, superseding any archived copy. Setting an item
// un-deletes the name. Nothing touches disk until Save.
func (k *Keyring) SetItem(name string, item Codec) error {
	data, err := item.EncodeItem()
	if err != nil {
		return &ItemCodecError{Name: name, Op: "encode", Err: err}
	}
	k.setRecord(name, item.ContentType(), data)
	return nil
}

// SetItemRaw stores already-encoded payload bytes under name, bypassing any
// codec. Used by pipelines that produced and validated the bytes themselves.
func (k *Keyring) SetItemRaw(name string, item ItemOwned) {
	k.setRecord(name, item.ContentType, item.Data)
}

func (k *Keyring) setRecord(name, contentType string, data []byte) {
	delete(k.deleted, name)
	k.items[name] = &itemRecord{
		contentType: contentType,
		pending:     data,
	}
	k.logAudit("set_item", nil, map[string]interface{}{
		"item": name,
		"type": contentType,
	})
}

// GetItem decodes the named item into item if the stored content type matches
// the codec's. It reports false, with no error, when the name is unknown or
// the content type differs.
func (k *Keyring) GetItem(name string, item Codec) (bool, error) {
	raw, err := k.GetItemRaw(name)
	if err != nil || raw == nil {
		return false, err
	}
	if raw.ContentType != item.ContentType() {
		return false, nil
	}
	if err = item.DecodeItem(raw.Data); err != nil {
		return false, &ItemCodecError{Name: name, Op: "decode", Err: err}
	}
	return true, nil
}

// GetItemRaw returns the item's bytes and content type, preferring the
// pending payload over the archived copy. It returns nil, with no error, for
// an unknown name. The view is only valid until the keyring is next mutated.
func (k *Keyring) GetItemRaw(name string) (*Item, error) {
	rec, ok := k.items[name]
	if !ok {
		return nil, nil
	}

	if rec.pending != nil {
		return &Item{ContentType: rec.contentType, Data: rec.pending}, nil
	}

	if k.archive == nil {
		// Violates the index invariant: a non-pending record must be
		// backed by the archive.
		return nil, fmt.Errorf("item %q has no pending payload and no archive backs it", name)
	}
	data, err := k.archive.readItem(name)
	if err != nil {
		return nil, err
	}
	return &Item{ContentType: rec.contentType, Data: data}, nil
}

// DeleteItem removes name from the keyring and reports whether it was there.
// The payload is physically purged from the archive on the next Save.
func (k *Keyring) DeleteItem(name string) bool {
	if _, ok := k.items[name]; !ok {
		return false
	}
	delete(k.items, name)
	k.deleted[name] = struct{}{}
	k.logAudit("delete_item", nil, map[string]interface{}{"item": name})
	return true
}

// Path returns the container's on-disk location.
func (k *Keyring) Path() string {
	return k.path
}

// MemoryProtection describes the protection level achieved when the keyring
// was opened with EnableMemoryLock.
func (k *Keyring) MemoryProtection() string {
	if !k.memLocked {
		return "None - memory locking was not requested"
	}
	switch k.memProtection {
	case mem.ProtectionFull:
		return "Full - process memory is locked"
	case mem.ProtectionPartial:
		return "Partial - some protection measures applied"
	default:
		return "None - sensitive data may be swapped to disk"
	}
}

// Close releases the keyring's ancillary resources: the audit logger and any
// memory locks. It does not save; unsaved mutations are lost.
func (k *Keyring) Close() error {
	var errs []error
	if k.memLocked {
		if err := mem.Unlock(); err != nil {
			errs = append(errs, err)
		}
		k.memLocked = false
	}
	if err := k.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release drops half-constructed state when Create or Load fails.
func (k *Keyring) release() {
	if k.memLocked {
		_ = mem.Unlock()
		k.memLocked = false
	}
}

func (k *Keyring) logAudit(action string, err error, metadata map[string]interface{}) {
	if err != nil {
		if metadata == nil {
			metadata = make(map[string]interface{}, 1)
		}
		metadata["error"] = err.Error()
	}
	// Audit failures must not mask the operation's own result.
	_ = k.audit.Log(action, err == nil, metadata)
}

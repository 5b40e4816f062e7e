package keyring

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icrypto "github.com/thanatos/keyring/internal/crypto"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "keyring.v2")
}

// decryptedArchive unseals the container file and opens the inner ZIP so a
// test can look at what was actually persisted.
func decryptedArchive(t *testing.T, path string, passphrase Secret) *zip.Reader {
	t.Helper()
	sealed, err := os.ReadFile(path)
	require.NoError(t, err)
	plain, err := icrypto.Unseal(sealed, memguard.NewEnclave([]byte(passphrase.Reveal())))
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(plain), int64(len(plain)))
	require.NoError(t, err)
	return zr
}

func archiveEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// rawEntryBytes returns an entry's stored (compressed) bytes without
// decompressing them, for byte-identity comparisons across saves.
func rawEntryBytes(t *testing.T, zr *zip.Reader, name string) []byte {
	t.Helper()
	f := archiveEntry(zr, name)
	require.NotNil(t, f, "archive should contain entry %s", name)
	rc, err := f.OpenRaw()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// sealForeignArchive writes a correctly sealed container whose inner ZIP is
// built from the given entries, bypassing the engine.
func sealForeignArchive(t *testing.T, path string, passphrase Secret, entries map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range entries {
		ew, err := w.Create(name)
		require.NoError(t, err)
		_, err = ew.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	sealed, err := icrypto.Seal(buf.Bytes(), memguard.NewEnclave([]byte(passphrase.Reveal())))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, sealed, 0600))
}

func TestCreateSaveReload(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("open sesame")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)

	record := PasswordRecord{
		Username: "alice",
		Password: NewSecret("hunter2"),
	}
	require.NoError(t, ring.SetItem("example.com", &record))
	ring.SetItemRaw("note", ItemOwned{
		ContentType: "text/plain; charset=utf-8",
		Data:        []byte("remember the milk"),
	})
	require.NoError(t, ring.Save())
	require.NoError(t, ring.Close())

	reloaded, err := Load(path, passphrase)
	require.NoError(t, err)
	defer reloaded.Close()

	assert.True(t, reloaded.HasItem("example.com"))
	assert.True(t, reloaded.HasItem("note"))
	assert.False(t, reloaded.HasItem("nothing"))

	var got PasswordRecord
	found, err := reloaded.GetItem("example.com", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "hunter2", got.Password.Reveal())

	raw, err := reloaded.GetItemRaw("note")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, "text/plain; charset=utf-8", raw.ContentType)
	assert.Equal(t, []byte("remember the milk"), raw.Data)
}

func TestCreateRefusesExistingFile(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.WriteFile(path, []byte("something else"), 0600))

	_, err := Create(path, NewSecret("pw"))
	assert.ErrorIs(t, err, ErrKeyringExists)

	// The existing file is untouched.
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("something else"), content)
}

func TestLoadWrongPassphrase(t *testing.T) {
	path := testPath(t)
	ring, err := Create(path, NewSecret("right"))
	require.NoError(t, err)
	require.NoError(t, ring.Close())

	_, err = Load(path, NewSecret("wrong"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.NotErrorIs(t, err, ErrNotKeyring)
}

func TestLoadNotAKeyring(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.WriteFile(path, []byte("just some text, not a container"), 0600))

	_, err := Load(path, NewSecret("pw"))
	assert.ErrorIs(t, err, ErrNotKeyring)
	assert.NotErrorIs(t, err, ErrDecryptionFailed)
}

func TestLoadForeignArchive(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	// A valid sealed ZIP that was never a keyring.
	sealForeignArchive(t, path, passphrase, map[string][]byte{
		"README": []byte("hello"),
	})

	_, err := Load(path, passphrase)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadRejectsOverlongMagic(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	// The magic entry must match exactly; a correct prefix with trailing
	// bytes is still a foreign archive.
	sealForeignArchive(t, path, passphrase, map[string][]byte{
		"META-INF/MAGIC":    []byte(Magic + "x"),
		"META-INF/CONTENTS": []byte("{}"),
	})

	_, err := Load(path, passphrase)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadRejectsBadManifest(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	sealForeignArchive(t, path, passphrase, map[string][]byte{
		"META-INF/MAGIC":    []byte(Magic),
		"META-INF/CONTENTS": []byte("not json"),
	})

	_, err := Load(path, passphrase)
	assert.ErrorIs(t, err, ErrManifestDecode)
}

func TestSaveWithoutChangesKeepsPayloadBytes(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)
	defer ring.Close()

	ring.SetItemRaw("stable", ItemOwned{
		ContentType: "application/octet-stream",
		Data:        bytes.Repeat([]byte("payload"), 100),
	})
	require.NoError(t, ring.Save())

	before := rawEntryBytes(t, decryptedArchive(t, path, passphrase), "items/stable")

	// A save with nothing pending carries every payload over raw.
	require.NoError(t, ring.Save())

	after := rawEntryBytes(t, decryptedArchive(t, path, passphrase), "items/stable")
	assert.Equal(t, before, after)
}

func TestSaveOnlyReencodesEditedItems(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)
	defer ring.Close()

	ring.SetItemRaw("untouched", ItemOwned{
		ContentType: "application/octet-stream",
		Data:        bytes.Repeat([]byte("abc"), 200),
	})
	ring.SetItemRaw("edited", ItemOwned{
		ContentType: "application/octet-stream",
		Data:        []byte("v1"),
	})
	require.NoError(t, ring.Save())

	before := rawEntryBytes(t, decryptedArchive(t, path, passphrase), "items/untouched")

	ring.SetItemRaw("edited", ItemOwned{
		ContentType: "application/octet-stream",
		Data:        []byte("v2"),
	})
	require.NoError(t, ring.Save())

	zr := decryptedArchive(t, path, passphrase)
	assert.Equal(t, before, rawEntryBytes(t, zr, "items/untouched"))

	raw, err := ring.GetItemRaw("edited")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), raw.Data)
}

func TestDeletePurgesPayload(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)
	defer ring.Close()

	ring.SetItemRaw("doomed", ItemOwned{
		ContentType: "application/octet-stream",
		Data:        []byte("sensitive"),
	})
	ring.SetItemRaw("kept", ItemOwned{
		ContentType: "application/octet-stream",
		Data:        []byte("fine"),
	})
	require.NoError(t, ring.Save())

	assert.True(t, ring.DeleteItem("doomed"))
	assert.False(t, ring.DeleteItem("doomed"))
	assert.False(t, ring.HasItem("doomed"))
	require.NoError(t, ring.Save())

	zr := decryptedArchive(t, path, passphrase)
	assert.Nil(t, archiveEntry(zr, "items/doomed"), "the payload entry should be gone")
	require.NotNil(t, archiveEntry(zr, "items/kept"))

	rc, err := archiveEntry(zr, "META-INF/CONTENTS").Open()
	require.NoError(t, err)
	defer rc.Close()
	var manifest map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
	assert.NotContains(t, manifest, "doomed")
	assert.Contains(t, manifest, "kept")
}

func TestSetAfterDeleteUndeletes(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)
	defer ring.Close()

	ring.SetItemRaw("name", ItemOwned{ContentType: "text/plain; charset=utf-8", Data: []byte("v1")})
	require.NoError(t, ring.Save())

	require.True(t, ring.DeleteItem("name"))
	ring.SetItemRaw("name", ItemOwned{ContentType: "text/plain; charset=utf-8", Data: []byte("v2")})
	require.NoError(t, ring.Save())

	reloaded, err := Load(path, passphrase)
	require.NoError(t, err)
	defer reloaded.Close()

	raw, err := reloaded.GetItemRaw("name")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, []byte("v2"), raw.Data)
}

func TestGetPrefersPendingPayload(t *testing.T) {
	path := testPath(t)

	ring, err := Create(path, NewSecret("pw"))
	require.NoError(t, err)
	defer ring.Close()

	ring.SetItemRaw("name", ItemOwned{ContentType: "application/octet-stream", Data: []byte("persisted")})
	require.NoError(t, ring.Save())

	ring.SetItemRaw("name", ItemOwned{ContentType: "application/octet-stream", Data: []byte("pending")})

	raw, err := ring.GetItemRaw("name")
	require.NoError(t, err)
	assert.Equal(t, []byte("pending"), raw.Data)
}

func TestGetItemContentTypeMismatch(t *testing.T) {
	ring, err := Create(testPath(t), NewSecret("pw"))
	require.NoError(t, err)
	defer ring.Close()

	ring.SetItemRaw("note", ItemOwned{
		ContentType: "text/plain; charset=utf-8",
		Data:        []byte("not a password"),
	})

	var record PasswordRecord
	found, err := ring.GetItem("note", &record)
	require.NoError(t, err)
	assert.False(t, found, "a content type mismatch is a miss, not an error")
}

func TestGetItemUnknownName(t *testing.T) {
	ring, err := Create(testPath(t), NewSecret("pw"))
	require.NoError(t, err)
	defer ring.Close()

	raw, err := ring.GetItemRaw("missing")
	require.NoError(t, err)
	assert.Nil(t, raw)

	var record PasswordRecord
	found, err := ring.GetItem("missing", &record)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestItemMetadataIsRestartable(t *testing.T) {
	ring, err := Create(testPath(t), NewSecret("pw"))
	require.NoError(t, err)
	defer ring.Close()

	for _, name := range []string{"a", "b", "c"} {
		ring.SetItemRaw(name, ItemOwned{ContentType: "application/octet-stream", Data: []byte(name)})
	}

	seq := ring.ItemMetadata()
	for round := 0; round < 2; round++ {
		seen := make(map[string]string)
		for info := range seq {
			seen[info.Name] = info.ContentType
		}
		assert.Len(t, seen, 3)
		assert.Equal(t, "application/octet-stream", seen["a"])
	}

	// Early break must not poison later rangings.
	for range seq {
		break
	}
	count := 0
	for range seq {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestFailedSaveLeavesCommittedFile(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)
	defer ring.Close()

	ring.SetItemRaw("name", ItemOwned{ContentType: "application/octet-stream", Data: []byte("v1")})
	require.NoError(t, ring.Save())

	committed, err := os.ReadFile(path)
	require.NoError(t, err)

	// Occupying the temp path makes the next save fail before it can touch
	// the committed file.
	require.NoError(t, os.WriteFile(path+".writing", []byte("in the way"), 0600))
	ring.SetItemRaw("name", ItemOwned{ContentType: "application/octet-stream", Data: []byte("v2")})
	require.Error(t, ring.Save())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, committed, after)
}

func TestScenario(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("correct horse")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)

	record := PasswordRecord{Password: NewSecret("abc")}
	require.NoError(t, ring.SetItem("site", &record))
	require.NoError(t, ring.Save())
	require.NoError(t, ring.Close())

	reloaded, err := Load(path, passphrase)
	require.NoError(t, err)
	defer reloaded.Close()

	require.True(t, reloaded.HasItem("site"))

	var got PasswordRecord
	found, err := reloaded.GetItem("site", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc", got.Password.Reveal())
}

func TestMagicEntryStoredUncompressed(t *testing.T) {
	path := testPath(t)
	passphrase := NewSecret("pw")

	ring, err := Create(path, passphrase)
	require.NoError(t, err)
	require.NoError(t, ring.Close())

	zr := decryptedArchive(t, path, passphrase)
	f := archiveEntry(zr, "META-INF/MAGIC")
	require.NotNil(t, f)
	assert.Equal(t, zip.Store, f.Method)

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, Magic, string(content))
}

// internal/store/file_store_test.go
package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/store"
)

func newIdentity(t *testing.T) domain.Identity {
	t.Helper()
	params := crypto.DefaultDomainParams()
	kp, err := crypto.GenerateKeyPair(nil, params)
	require.NoError(t, err)
	return domain.Identity{ParamsFingerprint: params.Fingerprint(), KeyPair: *kp}
}

func TestIdentity_SaveLoad_OK(t *testing.T) {
	home := t.TempDir()
	pass := "pass"

	var ids domain.IdentityStore = store.NewIdentityFileStore(home)
	id := newIdentity(t)

	require.NoError(t, ids.SaveIdentity(pass, id))

	got, err := ids.LoadIdentity(pass)
	require.NoError(t, err)
	require.Zero(t, id.KeyPair.Private.Cmp(got.KeyPair.Private))
	require.Zero(t, id.KeyPair.Public.Cmp(got.KeyPair.Public))
	require.True(t, got.Matches(crypto.DefaultDomainParams()))
}

func TestIdentity_FileIsSealed(t *testing.T) {
	home := t.TempDir()
	id := newIdentity(t)
	require.NoError(t, store.NewIdentityFileStore(home).SaveIdentity("pass", id))

	raw, err := os.ReadFile(filepath.Join(home, "identity.json.enc"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), id.KeyPair.Private.Text(16))

	info, err := os.Stat(filepath.Join(home, "identity.json.enc"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestIdentity_WrongPassphrase_Fails(t *testing.T) {
	home := t.TempDir()
	var ids domain.IdentityStore = store.NewIdentityFileStore(home)

	require.NoError(t, ids.SaveIdentity("correct", newIdentity(t)))
	_, err := ids.LoadIdentity("wrong")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestIdentity_Missing(t *testing.T) {
	_, err := store.NewIdentityFileStore(t.TempDir()).LoadIdentity("pass")
	require.ErrorIs(t, err, store.ErrNoIdentity)
}

func TestIdentity_CorruptedBlob(t *testing.T) {
	home := t.TempDir()
	ids := store.NewIdentityFileStore(home)
	require.NoError(t, ids.SaveIdentity("pass", newIdentity(t)))

	path := filepath.Join(home, "identity.json.enc")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	generic["salt"] = "AAAAAAAAAAAAAAAAAAAAAA=="
	tampered, err := json.Marshal(generic)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	_, err = ids.LoadIdentity("pass")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err = ids.LoadIdentity("pass")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestAccount_SaveLoad(t *testing.T) {
	var accounts domain.AccountStore = store.NewAccountFileStore(filepath.Join(t.TempDir(), "nested"))

	_, ok, err := accounts.LoadAccountProfile("http://relay-a")
	require.NoError(t, err)
	require.False(t, ok)

	a := domain.AccountProfile{ServerURL: "http://relay-a", ParticipantID: "p-1", ParamsFingerprint: "ff"}
	b := domain.AccountProfile{ServerURL: "http://relay-b", ParticipantID: "p-2", ParamsFingerprint: "ee"}
	require.NoError(t, accounts.SaveAccountProfile(a))
	require.NoError(t, accounts.SaveAccountProfile(b))

	got, ok, err := accounts.LoadAccountProfile("http://relay-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a, got)

	a.ParticipantID = "p-3"
	require.NoError(t, accounts.SaveAccountProfile(a))
	got, _, err = accounts.LoadAccountProfile("http://relay-a")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantID("p-3"), got.ParticipantID)
}

func TestAccount_ReplaceLeavesOnlyPrivateFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	accounts := store.NewAccountFileStore(dir)
	for _, id := range []domain.ParticipantID{"p-1", "p-2", "p-3"} {
		require.NoError(t, accounts.SaveAccountProfile(domain.AccountProfile{ServerURL: "http://relay", ParticipantID: id}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	require.Equal(t, "accounts.json", entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestAccount_CorruptFileNamesPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := store.NewAccountFileStore(dir).LoadAccountProfile("http://relay")
	require.Error(t, err)
	require.Contains(t, err.Error(), path)

	err = store.NewAccountFileStore(dir).SaveAccountProfile(domain.AccountProfile{ServerURL: "http://relay"})
	require.Error(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{not json", string(raw), "a failed save must not clobber the file")
}

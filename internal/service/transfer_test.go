package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

func corruptSafe(t *testing.T, st *store.BoltStore, id string) {
	t.Helper()
	env, err := st.GetSafe(id)
	require.NoError(t, err)
	prefix := "AAAA"
	if env.Ciphertext[:4] == prefix {
		prefix = "BBBB"
	}
	env.Ciphertext = prefix + env.Ciphertext[4:]
	require.NoError(t, st.PutSafe(env))
}

func TestExportSkipsPurchasesOfUnreadableSafe(t *testing.T) {
	src, st := unlocked(t, "1234")
	home, err := src.EnsureDefaultSafe()
	require.NoError(t, err)
	bank, err := src.CreateSafe("Bank", false)
	require.NoError(t, err)

	kept, err := src.CreatePurchase(krugerrand(home.ID))
	require.NoError(t, err)
	_, err = src.CreatePurchase(krugerrand(bank.ID))
	require.NoError(t, err)

	corruptSafe(t, st, bank.ID)

	snap, err := src.ExportAllDecrypted()
	require.NoError(t, err)
	require.Len(t, snap.Safes, 1)
	assert.Equal(t, home.ID, snap.Safes[0].ID)
	require.Len(t, snap.Purchases, 1)
	assert.Equal(t, kept.ID, snap.Purchases[0].ID)

	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	dst, _ := unlocked(t, "98765")
	result, err := dst.ImportFromJSON(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Safes)
	assert.Equal(t, 1, result.Purchases)
}

func TestImportSnapshotNil(t *testing.T) {
	svc, _ := unlocked(t, "1234")
	safe, err := svc.EnsureDefaultSafe()
	require.NoError(t, err)

	_, err = svc.ImportSnapshot(nil)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	safes, err := svc.ListSafes()
	require.NoError(t, err)
	require.Len(t, safes, 1)
	assert.Equal(t, safe.ID, safes[0].ID)
}

func TestUnlockKeepsUnreadableSafes(t *testing.T) {
	svc, st := unlocked(t, "1234")
	home, err := svc.EnsureDefaultSafe()
	require.NoError(t, err)

	corruptSafe(t, st, home.ID)
	svc.Lock()
	require.NoError(t, svc.Unlock("1234"))

	envs, err := st.ListSafes()
	require.NoError(t, err)
	assert.Len(t, envs, 1, "no replacement safe is created beside an unreadable one")

	_, err = svc.EnsureDefaultSafe()
	assert.ErrorIs(t, err, ErrNoReadableSafe)
	assert.ErrorIs(t, err, vault.ErrDecryptionFailed)
}

func TestDeleteLastSafeCreatesDefault(t *testing.T) {
	svc, st := unlocked(t, "1234")
	home, err := svc.EnsureDefaultSafe()
	require.NoError(t, err)

	_, err = svc.DeleteSafe(home.ID)
	require.NoError(t, err)

	envs, err := st.ListSafes()
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.NotEqual(t, home.ID, envs[0].ID)

	safe, err := svc.EnsureDefaultSafe()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSafeName, safe.Name)
	assert.True(t, safe.IsDefault)
}

package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/service"
	"github.com/aurasafe/aurasafe/internal/util"
)

const testPIN = "2580"

// TestHelper runs commands against a vault and config in a temp directory.
type TestHelper struct {
	TempDir    string
	ConfigPath string
	VaultPath  string
}

func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()
	dir := t.TempDir()
	return &TestHelper{
		TempDir:    dir,
		ConfigPath: filepath.Join(dir, "config.yaml"),
		VaultPath:  filepath.Join(dir, "vault", "aurasafe.db"),
	}
}

// Run executes one command with stdin and returns stdout and stderr.
func (h *TestHelper) Run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", h.ConfigPath, "--vault", h.VaultPath}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// MustRun is Run that fails the test on error.
func (h *TestHelper) MustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, errOut, err := h.Run(t, stdin, args...)
	require.NoError(t, err, "aurasafe %s\nstderr: %s", strings.Join(args, " "), errOut)
	return out
}

// SetupVault initializes a vault and leaves it unlocked.
func (h *TestHelper) SetupVault(t *testing.T) {
	t.Helper()
	h.MustRun(t, testPIN+"\n"+testPIN+"\n", "init")
}

func (h *TestHelper) addPurchase(t *testing.T, args ...string) domain.Purchase {
	t.Helper()
	out := h.MustRun(t, "", append([]string{"purchase", "add", "-o", "json"}, args...)...)
	var p domain.Purchase
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	return p
}

func TestInitUnlockLock(t *testing.T) {
	h := NewTestHelper(t)

	out := h.MustRun(t, testPIN+"\n"+testPIN+"\n", "init")
	assert.Contains(t, out, "Vault created")
	assert.Contains(t, out, "Default safe: Default")

	info, err := os.Stat(h.VaultPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out = h.MustRun(t, "", "safe", "list")
	assert.Contains(t, out, "Default")

	out = h.MustRun(t, "", "lock")
	assert.Contains(t, out, "Vault locked")

	_, _, err = h.Run(t, "", "safe", "list")
	assert.ErrorIs(t, err, service.ErrLocked)

	_, _, err = h.Run(t, "0000\n", "unlock")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
	assert.Equal(t, util.ExitAuthFailed, util.ExitCodeFor(err))

	out = h.MustRun(t, testPIN+"\n", "unlock", "--ttl", "2m")
	assert.Contains(t, out, "Vault unlocked")
	assert.Contains(t, out, "2m0s")

	h.MustRun(t, "", "safe", "list")
}

func TestInitRejectsExistingVault(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	_, _, err := h.Run(t, testPIN+"\n"+testPIN+"\n", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInitRejectsMismatchAndShortPIN(t *testing.T) {
	h := NewTestHelper(t)

	_, _, err := h.Run(t, "2580\n2581\n", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not match")

	_, _, err = h.Run(t, "12\n12\n", "init")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestInitWarnsAboutWeakPIN(t *testing.T) {
	h := NewTestHelper(t)

	_, errOut, err := h.Run(t, "1234\n1234\n", "init")
	require.NoError(t, err)
	assert.Contains(t, errOut, "weak PIN")
}

func TestUnlockRequiresSetup(t *testing.T) {
	h := NewTestHelper(t)

	_, _, err := h.Run(t, testPIN+"\n", "unlock")
	assert.ErrorIs(t, err, service.ErrNotSetUp)
}

func TestPurchaseLifecycle(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	out := h.MustRun(t, "", "safe", "create", "Bank box")
	assert.Contains(t, out, "Safe 'Bank box' created")

	p := h.addPurchase(t,
		"--safe", "bank box",
		"--name", "Krugerrand",
		"--metal", "gold",
		"--type", "coin",
		"--date", "2023-04-12",
		"--weight", "33.93",
		"--price", "2000",
		"--currency", "usd",
		"--link", "https://example.com/krugerrand",
	)
	assert.Equal(t, domain.MetalGold, p.Metal)
	assert.Equal(t, domain.TypeCoin, p.Type)
	assert.Equal(t, "USD", p.Currency)

	out = h.MustRun(t, "", "purchase", "list", "--safe", "Default")
	assert.Contains(t, out, "No purchases found")

	out = h.MustRun(t, "", "purchase", "list", "--safe", "Bank box")
	assert.Contains(t, out, "Krugerrand")
	assert.Contains(t, out, "1 purchase(s)")

	out = h.MustRun(t, "", "purchase", "list", "--search", "kruger+xyz")
	assert.Contains(t, out, "No purchases found")

	h.MustRun(t, "", "purchase", "update", p.ID, "--price", "0", "--notes", "birthday")
	out = h.MustRun(t, "", "purchase", "get", p.ID)
	assert.Contains(t, out, "gift")
	assert.Contains(t, out, "birthday")
	assert.Contains(t, out, "Bank box")

	out = h.MustRun(t, "", "purchase", "move", p.ID, "Default")
	assert.Contains(t, out, "moved to 'Default'")
	out = h.MustRun(t, "", "purchase", "list", "--safe", "Default")
	assert.Contains(t, out, "Krugerrand")

	out = h.MustRun(t, "", "purchase", "delete", p.ID, "--yes")
	assert.Contains(t, out, "deleted")

	_, _, err := h.Run(t, "", "purchase", "get", p.ID)
	require.Error(t, err)
}

func TestPurchaseDefaultsToDefaultSafe(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	p := h.addPurchase(t, "--name", "Maple Leaf", "--weight", "31.1", "--price", "1900")
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, domain.TypeCoin, p.Type)

	out := h.MustRun(t, "", "purchase", "list", "--safe", "Default", "-o", "json")
	var list []domain.Purchase
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestPurchaseValidationExitCode(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	_, _, err := h.Run(t, "", "purchase", "add", "--name", "Bar", "--weight", "-1")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Equal(t, util.ExitInvalidInput, util.ExitCodeFor(err))

	_, _, err = h.Run(t, "", "purchase", "add", "--name", "Bar", "--weight", "10", "--date", "12/04/2023")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestPurchaseImageAttachAndRemove(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	imgPath := filepath.Join(h.TempDir, "coin.png")
	require.NoError(t, os.WriteFile(imgPath, png, 0o600))

	p := h.addPurchase(t, "--name", "Philharmoniker", "--weight", "31.1", "--image", imgPath)
	assert.True(t, strings.HasPrefix(p.ImageDataURL, "data:image/png;base64,"))

	h.MustRun(t, "", "purchase", "update", p.ID, "--remove-image")
	out := h.MustRun(t, "", "purchase", "get", p.ID, "-o", "json")
	var got domain.Purchase
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Empty(t, got.ImageDataURL)

	txtPath := filepath.Join(h.TempDir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("not an image"), 0o600))
	_, _, err := h.Run(t, "", "purchase", "update", p.ID, "--image", txtPath)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestSafeCommands(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	h.MustRun(t, "", "safe", "create", "Bank box", "--default")
	h.addPurchase(t, "--safe", "Bank box", "--name", "Bar 100g", "--type", "Bar", "--weight", "100")
	h.addPurchase(t, "--safe", "Bank box", "--name", "Bar 50g", "--type", "Bar", "--weight", "50")

	out := h.MustRun(t, "", "safe", "list", "-o", "json")
	var rows []safeRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	defaults := 0
	for _, r := range rows {
		if r.IsDefault {
			defaults++
			assert.Equal(t, "Bank box", r.Name)
			assert.Equal(t, 2, r.Purchases)
		}
	}
	assert.Equal(t, 1, defaults)

	h.MustRun(t, "", "safe", "rename", "Bank box", "Deposit box")
	h.MustRun(t, "", "safe", "default", "Default")

	out = h.MustRun(t, "", "safe", "delete", "Deposit box", "--yes")
	assert.Contains(t, out, "deleted with 2 purchase(s)")

	out = h.MustRun(t, "", "purchase", "list")
	assert.Contains(t, out, "No purchases found")

	_, _, err := h.Run(t, "", "safe", "rename", "Nowhere", "x")
	require.Error(t, err)
}

func TestSafeDeleteCancelled(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)
	h.MustRun(t, "", "safe", "create", "Bank box")

	out := h.MustRun(t, "n\n", "safe", "delete", "Bank box")
	assert.Contains(t, out, "cancelled")

	out = h.MustRun(t, "", "safe", "list")
	assert.Contains(t, out, "Bank box")
}

func TestExportResetImport(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	h.MustRun(t, "", "safe", "create", "Bank box")
	h.addPurchase(t, "--safe", "Bank box", "--name", "Krugerrand", "--weight", "33.93", "--price", "2000", "--date", "2023-04-12")
	h.addPurchase(t, "--name", "Silver Eagle", "--metal", "silver", "--weight", "31.1", "--price", "35", "--date", "2022-01-03")

	exportPath := filepath.Join(h.TempDir, "backup.json")
	_, errOut, err := h.Run(t, "", "export", "--path", exportPath)
	require.NoError(t, err)
	assert.Contains(t, errOut, "2 safe(s) and 2 purchase(s)")

	info, err := os.Stat(exportPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, _, err = h.Run(t, "", "export", "--path", exportPath)
	require.Error(t, err, "existing export is not overwritten without --force")

	before := h.MustRun(t, "", "export")

	out := h.MustRun(t, "", "reset", "--yes")
	assert.Contains(t, out, "Vault erased")
	_, _, err = h.Run(t, "", "purchase", "list")
	assert.ErrorIs(t, err, service.ErrNotSetUp)

	h.MustRun(t, "98765\n98765\n", "init")
	out = h.MustRun(t, "", "import", exportPath, "--yes")
	assert.Contains(t, out, "Imported 2 safe(s) and 2 purchase(s)")

	after := h.MustRun(t, "", "export")
	var want, got domain.Snapshot
	require.NoError(t, json.Unmarshal([]byte(before), &want))
	require.NoError(t, json.Unmarshal([]byte(after), &got))
	assert.ElementsMatch(t, want.Safes, got.Safes)
	assert.ElementsMatch(t, want.Purchases, got.Purchases)
}

func TestImportInvalidSnapshotLeavesVaultUnchanged(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)
	h.addPurchase(t, "--name", "Krugerrand", "--weight", "33.93")

	bad := `{"safes":[{"id":"6f1c2a9e-3b7d-4c1e-9a55-0d2f8e4b7c10","name":"A","isDefault":true}],"purchases":[{"id":"0b9d7e21-5c4a-4f8e-8d3b-2a6c1f9e4d77","safeId":"d3e8a4c2-7f1b-4e6d-a9c0-5b2e8f7a1c34","name":"X","date":"2023-01-01","type":"Coin","weight":1,"buyPrice":1,"currency":"USD"}]}`
	badPath := filepath.Join(h.TempDir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(bad), 0o600))

	_, _, err := h.Run(t, "", "import", badPath, "--yes")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	out := h.MustRun(t, "", "purchase", "list")
	assert.Contains(t, out, "Krugerrand")
}

func TestImportFromStdin(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)

	snap := `{"safes":[{"id":"6f1c2a9e-3b7d-4c1e-9a55-0d2f8e4b7c10","name":"Home","isDefault":true}],"purchases":[]}`
	out := h.MustRun(t, snap, "import", "-")
	assert.Contains(t, out, "Imported 1 safe(s) and 0 purchase(s)")

	out = h.MustRun(t, "", "safe", "list")
	assert.Contains(t, out, "Home")
}

func priceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/prices/PAXG-USD/spot":
			_, _ = w.Write([]byte(`{"data":{"amount":"2000.00","base":"PAXG","currency":"USD"}}`))
		case "/v2/prices/XAG-USD/spot":
			_, _ = w.Write([]byte(`{"data":{"amount":"25.00","base":"XAG","currency":"USD"}}`))
		case "/v6/latest/EUR":
			_, _ = w.Write([]byte(`{"result":"success","base_code":"EUR","rates":{"USD":1.1}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	t.Setenv("AURASAFE_PRICES_SPOT_URL", srv.URL)
	t.Setenv("AURASAFE_PRICES_FX_URL", srv.URL)
	return srv
}

func TestPortfolioValuation(t *testing.T) {
	priceServer(t)
	h := NewTestHelper(t)
	h.SetupVault(t)

	h.addPurchase(t, "--name", "Krugerrand", "--weight", "31.1034768", "--price", "1500", "--date", "2020-01-01")
	h.addPurchase(t, "--name", "Silver Eagle", "--metal", "Silver", "--weight", "31.1034768", "--price", "20", "--currency", "EUR", "--date", "2021-01-01")
	h.addPurchase(t, "--name", "Pound coin", "--weight", "7.98", "--price", "400", "--currency", "GBP", "--date", "2022-01-01")

	out := h.MustRun(t, "", "portfolio", "--sort", "profit-desc", "-o", "json")
	var report struct {
		Currency string         `json:"currency"`
		Items    []portfolioRow `json:"items"`
		Summary  struct {
			Count        int     `json:"count"`
			TotalBasis   float64 `json:"totalBasis"`
			CurrentValue float64 `json:"currentValue"`
			NetProfit    float64 `json:"netProfit"`
			Unpriced     int     `json:"unpriced"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, "USD", report.Currency)
	require.Len(t, report.Items, 3)
	assert.Equal(t, "Krugerrand", report.Items[0].Name)
	assert.Equal(t, "Silver Eagle", report.Items[1].Name)
	assert.Equal(t, "Pound coin", report.Items[2].Name, "unpriced items sort last")
	assert.Nil(t, report.Items[2].CurrentValue)

	assert.Equal(t, 3, report.Summary.Count)
	assert.Equal(t, 1, report.Summary.Unpriced)
	assert.InDelta(t, 1522, report.Summary.TotalBasis, 1e-6)
	assert.InDelta(t, 2025, report.Summary.CurrentValue, 1e-6)
	assert.InDelta(t, 503, report.Summary.NetProfit, 1e-6)

	out = h.MustRun(t, "", "portfolio", "--type", "coin", "--search", "kruger")
	assert.Contains(t, out, "Krugerrand")
	assert.NotContains(t, out, "Silver Eagle")
	assert.Contains(t, out, "Gold spot: 2000.00 USD/oz")

	_, _, err := h.Run(t, "", "portfolio", "--sort", "weight")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestSpotAndFx(t *testing.T) {
	priceServer(t)
	h := NewTestHelper(t)

	out := h.MustRun(t, "", "spot", "gold")
	assert.Contains(t, out, "Gold: 2000.00 USD per troy ounce, 64.30 USD per gram")
	assert.NotContains(t, out, "stale")

	out = h.MustRun(t, "", "spot", "silver", "--currency", "CHF")
	assert.Contains(t, out, "(stale)")
	assert.Contains(t, out, "fallback")

	out = h.MustRun(t, "", "fx", "eur", "usd")
	assert.Contains(t, out, "1 EUR = 1.100000 USD")

	out = h.MustRun(t, "", "fx", "USD", "JPY")
	assert.Contains(t, out, "n/a")

	_, _, err := h.Run(t, "", "spot", "platinum")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestStatus(t *testing.T) {
	h := NewTestHelper(t)

	out := h.MustRun(t, "", "status")
	assert.Contains(t, out, "Not initialized")
	_, err := os.Stat(h.VaultPath)
	assert.True(t, os.IsNotExist(err), "status must not create the vault")

	h.SetupVault(t)
	h.addPurchase(t, "--name", "Krugerrand", "--weight", "33.93")

	out = h.MustRun(t, "", "status", "--json")
	var info statusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Initialized)
	assert.Equal(t, "unlocked", info.SessionState)
	require.NotNil(t, info.PurchaseCount)
	assert.Equal(t, 1, *info.PurchaseCount)
	assert.Equal(t, 16, info.Crypto.SaltLength)
	assert.Equal(t, "AES-256-GCM", info.Crypto.Cipher)
	assert.Positive(t, info.RemainingTTLSecs)

	h.MustRun(t, "", "lock")
	out = h.MustRun(t, "", "status")
	assert.Contains(t, out, "Purchases: (locked)")
	assert.Contains(t, out, "Session: locked")
}

func TestPinCommands(t *testing.T) {
	h := NewTestHelper(t)

	out := h.MustRun(t, "", "pin", "generate", "--length", "8")
	code := strings.TrimSpace(out)
	assert.Len(t, code, 8)

	out = h.MustRun(t, "1111\n", "pin", "check")
	assert.Contains(t, out, "Weak")

	h.SetupVault(t)
	h.addPurchase(t, "--name", "Krugerrand", "--weight", "33.93")

	_, _, err := h.Run(t, "0000\n80417\n80417\n", "pin", "change")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)

	out = h.MustRun(t, testPIN+"\n80417\n80417\n", "pin", "change")
	assert.Contains(t, out, "PIN changed")

	out = h.MustRun(t, "", "purchase", "list")
	assert.Contains(t, out, "Krugerrand", "session follows the new key")

	h.MustRun(t, "", "lock")
	_, _, err = h.Run(t, testPIN+"\n", "unlock")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
	h.MustRun(t, "80417\n", "unlock")
}

func TestConfigCommands(t *testing.T) {
	h := NewTestHelper(t)

	out := h.MustRun(t, "", "config", "path")
	assert.Equal(t, h.ConfigPath+"\n", out)

	out = h.MustRun(t, "", "config", "set", "currency", "eur")
	assert.Contains(t, out, "currency = eur")

	out = h.MustRun(t, "", "config", "show")
	assert.Contains(t, out, "currency: EUR")

	_, _, err := h.Run(t, "", "config", "set", "kdf.iterations", "10")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCodeFor(err))

	_, _, err = h.Run(t, "", "config", "set", "nope", "1")
	require.Error(t, err)

	data, err := os.ReadFile(h.ConfigPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), h.VaultPath, "flag overrides are not persisted")
}

func TestDoctor(t *testing.T) {
	h := NewTestHelper(t)
	h.SetupVault(t)
	h.addPurchase(t, "--name", "Krugerrand", "--weight", "33.93")

	out := h.MustRun(t, "", "doctor")
	assert.Contains(t, out, "Vault file permissions: 600")
	assert.Contains(t, out, "1 safe(s), 1 purchase(s) scanned")
	assert.Contains(t, out, "All records decrypt")
	assert.NotContains(t, out, "❌")

	h.MustRun(t, "", "lock")
	out = h.MustRun(t, "", "doctor")
	assert.Contains(t, out, "Vault is locked")
}

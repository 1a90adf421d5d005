package cli

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/config"
	"github.com/aurasafe/aurasafe/internal/service"
	"github.com/aurasafe/aurasafe/internal/vault"
)

// doctorReport tallies the outcome of the health checks.
type doctorReport struct {
	out      io.Writer
	issues   int
	warnings int
}

func (r *doctorReport) ok(format string, args ...interface{}) error {
	return writeOutput(r.out, "   ✅ "+format+"\n", args...)
}

func (r *doctorReport) warn(format string, args ...interface{}) error {
	r.warnings++
	return writeOutput(r.out, "   ⚠️  "+format+"\n", args...)
}

func (r *doctorReport) fail(format string, args ...interface{}) error {
	r.issues++
	return writeOutput(r.out, "   ❌ "+format+"\n", args...)
}

func (r *doctorReport) section(title string) error {
	return writeOutput(r.out, "\n%s\n", title)
}

func newDoctorCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Perform security and health checks",
		Long: `Perform security and health checks on the vault.

This command checks:
- File permissions of the vault, its directory, session and config files
- KDF parameters recorded in the vault
- That every record decrypts and belongs to an existing safe (when unlocked)
- Session and clipboard timeouts

Example:
  aurasafe doctor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, c)
		},
	}
}

func runDoctor(cmd *cobra.Command, c *cliContext) error {
	r := &doctorReport{out: cmd.OutOrStdout()}
	if err := writeOutput(r.out, "aurasafe Security & Health Check\n%s\n", strings.Repeat("=", 32)); err != nil {
		return err
	}

	if err := r.section("1. File Security"); err != nil {
		return err
	}
	exists, err := checkPermissions(r, "Vault file", c.cfg.VaultPath, true)
	if err != nil {
		return err
	}
	if exists {
		dir := filepath.Dir(c.cfg.VaultPath)
		if info, err := os.Stat(dir); err == nil {
			if perm := info.Mode().Perm(); perm&0o077 == 0 {
				err = r.ok("Vault directory permissions: %o", perm)
			} else {
				err = r.warn("Vault directory permissions: %o (consider 0700)", perm)
			}
			if err != nil {
				return err
			}
		}
		if _, err := checkPermissions(r, "Session file", c.cfg.VaultPath+".session", false); err != nil {
			return err
		}
	}
	if _, err := checkPermissions(r, "Config file", c.cfgPath, false); err != nil {
		return err
	}

	if exists {
		if err := doctorVault(r, c); err != nil {
			return err
		}
	}

	if err := r.section("4. Timeouts"); err != nil {
		return err
	}
	if c.cfg.SessionTTL > time.Hour {
		err = r.warn("Session TTL is %v (consider an hour or less)", c.cfg.SessionTTL)
	} else {
		err = r.ok("Session TTL: %v", c.cfg.SessionTTL)
	}
	if err != nil {
		return err
	}
	if c.cfg.ClipboardTTL == 0 || c.cfg.ClipboardTTL > time.Minute {
		err = r.warn("Clipboard timeout is %v (exports copied to the clipboard are plaintext)", c.cfg.ClipboardTTL)
	} else {
		err = r.ok("Clipboard timeout: %v", c.cfg.ClipboardTTL)
	}
	if err != nil {
		return err
	}

	if err := writeOutput(r.out, "\n%s\n", strings.Repeat("=", 32)); err != nil {
		return err
	}
	if r.issues == 0 && r.warnings == 0 {
		return writeOutput(r.out, "✅ All checks passed\n")
	}
	if r.issues > 0 {
		if err := writeOutput(r.out, "❌ Found %d issue(s) that should be fixed\n", r.issues); err != nil {
			return err
		}
	}
	if r.warnings > 0 {
		return writeOutput(r.out, "⚠️  Found %d warning(s)\n", r.warnings)
	}
	return nil
}

// checkPermissions reports on a file that should be private. A missing
// required file is an issue; a missing optional one is fine.
func checkPermissions(r *doctorReport, label, path string, required bool) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if required {
			return false, r.fail("%s not found: %s (run 'aurasafe init')", label, path)
		}
		return false, r.ok("%s not present", label)
	case err != nil:
		return false, r.fail("Cannot check %s: %v", strings.ToLower(label), err)
	}

	perm := info.Mode().Perm()
	switch {
	case perm == 0o600:
		err = r.ok("%s permissions: %o", label, perm)
	case perm&0o077 != 0:
		err = r.fail("%s permissions: %o (too permissive, fix with: chmod 600 %s)", label, perm, path)
	default:
		err = r.warn("%s permissions: %o (0600 recommended)", label, perm)
	}
	return true, err
}

func doctorVault(r *doctorReport, c *cliContext) error {
	if err := r.section("2. Cryptographic Parameters"); err != nil {
		return err
	}

	app, err := c.openVault()
	if err != nil {
		return r.fail("Cannot open vault: %v", err)
	}
	defer app.Close()

	setUp, err := app.svc.IsSetUp()
	if err != nil {
		return r.fail("Cannot read vault metadata: %v", err)
	}
	if !setUp {
		return r.warn("Vault has no PIN yet (run 'aurasafe init')")
	}

	salt, err := app.svc.Salt()
	if err != nil {
		return r.fail("Cannot read salt: %v", err)
	}
	iterations, err := app.svc.KDFIterations()
	if err != nil {
		return r.fail("Cannot read KDF iterations: %v", err)
	}
	info, err := vault.DescribeVault(salt, iterations)
	if err != nil {
		return r.fail("Salt is not valid base64")
	}

	if info.SaltLength == vault.SaltSize {
		err = r.ok("Salt: %d bytes", info.SaltLength)
	} else {
		err = r.fail("Salt: %d bytes (expected %d)", info.SaltLength, vault.SaltSize)
	}
	if err != nil {
		return err
	}
	if iterations >= config.MinKDFIterations {
		err = r.ok("KDF: %s, %d iterations", info.KDF, iterations)
	} else {
		err = r.warn("KDF: %d iterations (below the recommended %d)", iterations, config.MinKDFIterations)
	}
	if err != nil {
		return err
	}

	if err := r.section("3. Vault Integrity"); err != nil {
		return err
	}
	if err := c.restore(app); err != nil {
		if errors.Is(err, service.ErrLocked) {
			return r.warn("Vault is locked; run 'aurasafe unlock' for a full check")
		}
		return r.fail("Cannot restore session: %v", err)
	}

	report, err := app.svc.Verify()
	if err != nil {
		return r.fail("Integrity check failed: %v", err)
	}
	if err := r.ok("%d safe(s), %d purchase(s) scanned", report.Safes, report.Purchases); err != nil {
		return err
	}
	if n := len(report.UnreadableSafes) + len(report.UnreadablePurchases); n > 0 {
		if err := r.fail("%d record(s) cannot be decrypted: %s", n,
			strings.Join(append(report.UnreadableSafes, report.UnreadablePurchases...), ", ")); err != nil {
			return err
		}
	}
	if n := len(report.OrphanedPurchases); n > 0 {
		if err := r.fail("%d purchase(s) reference a missing safe: %s", n, strings.Join(report.OrphanedPurchases, ", ")); err != nil {
			return err
		}
	}
	if report.DefaultSafes != 1 {
		return r.warn("%d default safes (expected exactly one)", report.DefaultSafes)
	}
	if report.Healthy() {
		return r.ok("All records decrypt and reference existing safes")
	}
	return nil
}

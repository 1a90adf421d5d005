package cli

import (
	"errors"
	"fmt"

	"github.com/aurasafe/aurasafe/internal/prices"
	"github.com/aurasafe/aurasafe/internal/service"
	"github.com/aurasafe/aurasafe/internal/session"
	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

// vaultApp bundles the open store with the service and session file that
// operate on it. It holds the bbolt file lock until Close.
type vaultApp struct {
	store    *store.BoltStore
	svc      *service.Service
	sessions *session.Manager
}

func (c *cliContext) openVault() (*vaultApp, error) {
	st, err := store.OpenBoltStore(c.cfg.VaultPath, store.Options{Logger: c.log.With("store")})
	if err != nil {
		return nil, err
	}

	svc := service.New(st,
		vault.NewKeyDeriver(c.cfg.KDF.Iterations),
		vault.NewCryptoEngine(),
		service.WithLogger(c.log),
	)

	return &vaultApp{
		store:    st,
		svc:      svc,
		sessions: session.NewManager(c.cfg.VaultPath),
	}, nil
}

// openUnlocked opens the vault and restores the key saved by unlock.
func (c *cliContext) openUnlocked() (*vaultApp, error) {
	app, err := c.openVault()
	if err != nil {
		return nil, err
	}
	if err := c.restore(app); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// restore unlocks app's service from the session file.
func (c *cliContext) restore(app *vaultApp) error {
	setUp, err := app.svc.IsSetUp()
	if err != nil {
		return err
	}
	if !setUp {
		return service.ErrNotSetUp
	}

	key, _, err := app.sessions.Load()
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) && !errors.Is(err, session.ErrExpired) {
			c.log.Warn().Err(err).Msg("discarded unreadable session file")
		}
		return service.ErrLocked
	}

	if err := app.svc.UnlockWithKey(key); err != nil {
		key.Destroy()
		_ = app.sessions.Clear()
		if errors.Is(err, service.ErrAuthenticationFailed) {
			return fmt.Errorf("%w: session does not match this vault", service.ErrLocked)
		}
		return err
	}
	return nil
}

// touch extends the session after a successful command.
func (c *cliContext) touch(app *vaultApp) {
	key, err := app.svc.SessionKey()
	if err != nil {
		return
	}
	if err := app.sessions.Save(key, c.cfg.SessionTTL); err != nil {
		c.log.Warn().Err(err).Msg("failed to refresh session")
	}
}

// Close locks the service and releases the vault file.
func (a *vaultApp) Close() {
	a.svc.Lock()
	_ = a.store.Close()
}

func (c *cliContext) priceConfig() prices.Config {
	return prices.Config{
		SpotURL: c.cfg.Prices.SpotURL,
		FXURL:   c.cfg.Prices.FXURL,
		SpotTTL: c.cfg.Prices.SpotTTL,
		FXTTL:   c.cfg.Prices.FXTTL,
		Timeout: c.cfg.Prices.Timeout,
	}
}

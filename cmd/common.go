package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/illarion/lockpass/internal/config"
	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/crypto"
	"github.com/illarion/lockpass/internal/keyring"
	"github.com/illarion/lockpass/internal/peersync"
	"github.com/illarion/lockpass/internal/ui"
	"golang.org/x/term"
)

var errPeerLocked = errors.New("peer vault locked")

// getPassword returns the master password from LOCKPASS_PASSWORD, the OS
// keyring or a prompt, in that order. fromKeyring tells the caller a wrong
// password came from a stale keyring entry.
// The caller is responsible for calling crypto.ClearBytes on the result.
func getPassword(vaultID string) (password []byte, fromKeyring bool, err error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, false, nil
	}

	if vaultID != "" {
		if password, err := keyring.GetPassword(vaultID); err == nil {
			return password, true, nil
		} else if !errors.Is(err, keyring.ErrNotStored) {
			log.Debug().Err(err).Msg("keyring unavailable")
		}
	}

	password, err = core.ReadPassword("Master password: ")
	if err != nil {
		return nil, false, err
	}
	return password, false, nil
}

// getPasswordForInit checks the environment first, then prompts twice
func getPasswordForInit() ([]byte, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return core.ReadPasswordConfirm()
}

// unlock opens the configured vault. A stale keyring password is reported
// and replaced by a prompt.
func unlock() (*core.Session, error) {
	vaultID, err := vault.VaultID()
	if err != nil {
		return nil, err
	}

	password, fromKeyring, err := getPassword(vaultID)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password)

	sess, err := unlockWith(password)
	if errors.Is(err, core.ErrWrongPassword) && fromKeyring {
		fmt.Fprintln(os.Stderr, ui.Warning.Sprint("Password stored in keyring is no longer valid"))
		retry, err := core.ReadPassword("Master password: ")
		if err != nil {
			return nil, err
		}
		defer crypto.ClearBytes(retry)
		return unlockWith(retry)
	}
	return sess, err
}

func unlockWith(password []byte) (*core.Session, error) {
	done := startSpinner("Unlocking vault")
	defer done()
	return vault.Unlock(password)
}

// startSpinner shows progress on stderr while key derivation runs. Nothing
// is drawn when stderr is not a terminal or debug logging is on.
func startSpinner(message string) func() {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	_ = s.Color("cyan")

	if verbose || !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	s.Start()
	return s.Stop
}

// HandleError prints err with a hint where one helps
func HandleError(err error) {
	var peerErr *peersync.PeerError
	switch {
	case errors.Is(err, core.ErrNotInitialized):
		fmt.Fprintln(os.Stderr, ui.Cross("no vault found"))
		fmt.Fprintf(os.Stderr, "Run %s first\n", ui.Code.Sprint("lockpass init"))
	case errors.Is(err, core.ErrAlreadyExists):
		fmt.Fprintln(os.Stderr, ui.Cross("a vault already exists at this path"))
		fmt.Fprintf(os.Stderr, "Use %s to inspect it\n", ui.Code.Sprint("lockpass status"))
	case errors.Is(err, core.ErrWrongPassword):
		fmt.Fprintln(os.Stderr, ui.Cross("invalid password"))
	case errors.Is(err, core.ErrPasswordRequired):
		fmt.Fprintln(os.Stderr, ui.Cross("password required"))
		fmt.Fprintf(os.Stderr, "Set %s or run from a terminal\n", ui.Code.Sprint(core.PasswordEnv))
	case errors.Is(err, core.ErrVaultLocked):
		fmt.Fprintln(os.Stderr, ui.Cross("vault is locked"))
	case errors.Is(err, core.ErrNotFound):
		fmt.Fprintln(os.Stderr, ui.Cross("entry not found"))
	case errors.Is(err, errPeerLocked):
		fmt.Fprintln(os.Stderr, ui.Cross("peer vault locked"))
		fmt.Fprintln(os.Stderr, "Unlock the vault on the other device and try again")
	case errors.Is(err, peersync.ErrRequestTimedOut):
		fmt.Fprintln(os.Stderr, ui.Cross("peer did not answer in time"))
	case errors.Is(err, peersync.ErrInvalidPairing):
		fmt.Fprintln(os.Stderr, ui.Cross("%s", err))
		fmt.Fprintln(os.Stderr, `Expected {"ip":"...","port":...} or host:port`)
	case errors.Is(err, peersync.ErrTransportUnavailable):
		fmt.Fprintln(os.Stderr, ui.Cross("peer unreachable: %s", err))
	case errors.As(err, &peerErr):
		fmt.Fprintln(os.Stderr, ui.Cross("peer refused: %s", peerErr.Message))
	case errors.Is(err, core.ErrBackupExists):
		fmt.Fprintln(os.Stderr, ui.Cross("backup file already exists"))
	case errors.Is(err, core.ErrInvalidBackup):
		fmt.Fprintln(os.Stderr, ui.Cross("backup is damaged or belongs to another vault"))
	case errors.Is(err, config.ErrInvalidConfig):
		fmt.Fprintln(os.Stderr, ui.Cross("%s", err))
		fmt.Fprintf(os.Stderr, "Check %s\n", ui.Code.Sprint(configFileHint()))
	default:
		fmt.Fprintln(os.Stderr, ui.Cross("%s", err))
	}
}

func configFileHint() string {
	if cfg != nil {
		return cfg.Path()
	}
	if configPath != "" {
		return configPath
	}
	if path, err := config.DefaultPath(); err == nil {
		return path
	}
	return "the config file"
}

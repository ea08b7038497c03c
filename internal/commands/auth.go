package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cesaregarza/splatnet3-auth/internal/lifecycle"
	"github.com/cesaregarza/splatnet3-auth/internal/nso"
	"github.com/cesaregarza/splatnet3-auth/internal/output"
	"github.com/cesaregarza/splatnet3-auth/internal/store"
	"github.com/cesaregarza/splatnet3-auth/internal/token"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage game credentials",
		Long:  "Manage the credential chain: log in, inspect, regenerate, and validate tokens.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRegenerateCmd(),
		newAuthValidateCmd(),
		newAuthTokenCmd(),
		newAuthExportCmd(),
		newAuthImportCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var skipDerive bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a session token via browser consent",
		Long: `Start the browser consent flow and capture a long-lived session token.

Open the printed URL, sign in, right-click the red "Select this account"
button, copy its link address, and paste it back here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}

			fmt.Println("Open this URL in a browser and sign in:")
			fmt.Println()
			fmt.Println("  " + app.Client.LoginURL())
			fmt.Println()
			fmt.Print("Paste the link address of the \"Select this account\" button: ")

			reader := bufio.NewReader(cmd.InOrStdin())
			redirect, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return err
			}

			code, err := nso.ParseRedirect(redirect)
			if err != nil {
				return err
			}

			sessionToken, err := app.Client.SessionToken(cmd.Context(), code)
			if err != nil {
				return err
			}
			app.Keychain.Add(token.New(sessionToken, token.Session, time.Time{}))

			if !skipDerive {
				fmt.Println("Deriving game credentials...")
				if err := app.Manager.EnsureBulletToken(cmd.Context()); err != nil {
					return err
				}
			}

			if err := app.SaveCredentials(); err != nil {
				return err
			}

			fmt.Println("Login successful.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipDerive, "session-only", false, "Stop after the session token, do not derive game credentials")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			if err := app.Store.Delete(); err != nil {
				return err
			}
			fmt.Println("Stored credentials removed.")
			return nil
		},
	}
}

// tokenStatus is the status entry for one token kind.
type tokenStatus struct {
	Present   bool   `json:"present"`
	Expired   bool   `json:"expired,omitempty"`
	Remaining string `json:"remaining,omitempty"`
}

func statusFor(mgr *lifecycle.Manager, kind token.Kind) tokenStatus {
	tok, err := mgr.Get(kind)
	if err != nil || !tok.IsValid() {
		return tokenStatus{}
	}
	return tokenStatus{
		Present:   true,
		Expired:   tok.IsExpired(),
		Remaining: tok.RemainingString(),
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential status",
		Long:  "Display which tokens are held and how long each remains usable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}

			status := map[string]tokenStatus{
				string(token.Session): statusFor(app.Manager, token.Session),
				string(token.Game):    statusFor(app.Manager, token.Game),
				string(token.Bullet):  statusFor(app.Manager, token.Bullet),
			}

			if app.Flags.JSON {
				return printJSON(status)
			}

			for _, kind := range []token.Kind{token.Session, token.Game, token.Bullet} {
				s := status[string(kind)]
				switch {
				case !s.Present:
					fmt.Printf("%-14s missing\n", kind)
				case s.Expired:
					fmt.Printf("%-14s expired\n", kind)
				default:
					fmt.Printf("%-14s ok (%s remaining)\n", kind, s.Remaining)
				}
			}
			return nil
		},
	}
}

func newAuthRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate",
		Short: "Re-derive the full credential chain",
		Long:  "Discard the derived tokens and run the whole chain again from the session token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}

			if err := app.Manager.RegenerateAll(cmd.Context()); err != nil {
				return err
			}
			if err := app.SaveCredentials(); err != nil {
				return err
			}

			fmt.Println("Credentials regenerated.")
			return nil
		},
	}
}

func newAuthValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Probe the backend with the current credentials",
		Long: `Confirm the derived credentials are accepted by the backend.

Probes once; on rejection the chain is regenerated and probed one more
time before giving up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}

			if err := app.Manager.Validate(cmd.Context()); err != nil {
				// Persist anything the validation run derived before failing
				_ = app.SaveCredentials()
				return err
			}
			if err := app.SaveCredentials(); err != nil {
				return err
			}

			fmt.Println("Credentials are valid.")
			return nil
		},
	}
}

func newAuthTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "token [session|gtoken|bullet]",
		Short:     "Print a token value",
		Long:      "Print a raw token to stdout for use with other tools. Defaults to the bullet token.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"session", "gtoken", "bullet"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}

			kind := token.Bullet
			if len(args) == 1 {
				switch args[0] {
				case "session":
					kind = token.Session
				case "gtoken":
					kind = token.Game
				case "bullet":
					kind = token.Bullet
				default:
					return output.ErrUsage(fmt.Sprintf("unknown token kind %q", args[0]))
				}
			}

			// Make sure the requested token exists and is fresh before
			// printing it; the session token is never derived here.
			switch kind {
			case token.Game:
				if err := app.Manager.EnsureGameToken(cmd.Context()); err != nil {
					return err
				}
			case token.Bullet:
				if err := app.Manager.EnsureBulletToken(cmd.Context()); err != nil {
					return err
				}
			}

			tok, err := app.Manager.Get(kind)
			if err != nil {
				return err
			}
			if err := app.SaveCredentials(); err != nil {
				return err
			}

			if app.Flags.JSON {
				return printJSON(map[string]string{"token": tok.Value})
			}
			fmt.Println(tok.Value)
			return nil
		},
	}

	return cmd
}

func newAuthExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export stored credentials as JSON",
		Long:  "Write the stored credentials to stdout so they can be moved to another machine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}

			creds, err := app.Store.Load()
			if err != nil {
				return err
			}
			return printJSON(creds)
		},
	}
}

func newAuthImportCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import credentials from JSON",
		Long:  "Read credentials produced by \"sn3 auth export\" from a file or stdin and store them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if path != "" && path != "-" {
				f, err := os.Open(path) //nolint:gosec // G304: user-chosen import path
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var creds store.Credentials
			if err := json.NewDecoder(in).Decode(&creds); err != nil {
				return output.ErrUsage("import data is not valid credentials JSON")
			}
			if creds.SessionToken == "" {
				return output.ErrUsage("import data has no session token")
			}

			if err := app.Store.Save(&creds); err != nil {
				return err
			}
			fmt.Println("Credentials imported.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "", "Read from a file instead of stdin")

	return cmd
}

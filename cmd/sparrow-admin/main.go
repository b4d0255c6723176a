// ABOUTME: Operator CLI for sparrowd vault management
// ABOUTME: Talks to the server-admin endpoints using the hashed shared secret

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/sparrowpad/sparrow-server/internal/client"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	serverURL := os.Getenv("SPARROW_SERVER")
	if serverURL == "" {
		serverURL = "http://127.0.0.1:8137"
	}

	c := client.New(serverURL, newMemSessions(), slog.New(slog.DiscardHandler))
	if secret := os.Getenv("SPARROW_ADMIN_SECRET"); secret != "" {
		_ = c.SetServerAdminSecret(secret)
	}

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "vaults":
		err = cmdVaults(ctx, c, args)
	case "setup":
		err = cmdSetup(ctx, c, args)
	case "status":
		err = cmdStatus(ctx, c, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: sparrow-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  vaults list           List vaults")
	fmt.Println("  vaults create NAME    Create a new vault")
	fmt.Println("  setup VAULT USERNAME  Create a vault's admin account (prompts for password)")
	fmt.Println("  status [VAULT]        Show auth status")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SPARROW_SERVER        Backend URL (default http://127.0.0.1:8137)")
	fmt.Println("  SPARROW_ADMIN_SECRET  Server-admin secret (needed off-loopback)")
}

func cmdVaults(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sparrow-admin vaults <list|create>")
	}

	switch args[0] {
	case "list":
		vaults, err := c.ListVaults(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAUTH\tCONFIGURED\tCREATED")
		for _, v := range vaults {
			configured := "no"
			if v.Configured {
				configured = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Name, v.AuthMode, configured, v.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()

	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: sparrow-admin vaults create NAME")
		}
		v, err := c.CreateVault(ctx, args[1])
		if err != nil {
			return err
		}
		color.Green("Created vault %q (%s)", v.Name, v.ID)
		return nil

	default:
		return fmt.Errorf("unknown vaults subcommand: %s", args[0])
	}
}

func cmdSetup(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: sparrow-admin setup VAULT USERNAME")
	}
	vault, username := args[0], args[1]

	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")

	if err := c.Setup(ctx, vault, username, password); err != nil {
		return err
	}
	color.Green("Admin account %q created for vault %q", username, vault)
	return nil
}

func cmdStatus(ctx context.Context, c *client.Client, args []string) error {
	vault := ""
	if len(args) > 0 {
		vault = args[0]
	}

	st, err := c.Status(ctx, vault)
	if err != nil {
		return err
	}

	fmt.Printf("vault selected: %v\n", st.VaultSelected)
	fmt.Printf("configured:     %v\n", st.Configured)
	fmt.Printf("auth enabled:   %v\n", st.Enabled)
	return nil
}

// memSessions is a throwaway in-memory session store; the admin CLI never
// holds vault sessions, only the hashed admin secret for this invocation.
type memSessions struct {
	mu        sync.Mutex
	tokens    map[string]string
	adminHash string
}

func newMemSessions() *memSessions {
	return &memSessions{tokens: make(map[string]string)}
}

func (m *memSessions) Get(vaultPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[vaultPath]
	if !ok {
		return "", client.ErrNoSession
	}
	return token, nil
}

func (m *memSessions) Set(vaultPath, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[vaultPath] = refreshToken
	return nil
}

func (m *memSessions) Remove(vaultPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, vaultPath)
	return nil
}

func (m *memSessions) ServerAdminHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adminHash
}

func (m *memSessions) SetServerAdminHash(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminHash = hash
	return nil
}

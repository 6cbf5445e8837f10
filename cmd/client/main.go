// Package main runs the interactive passlock client: an encrypted
// local vault synchronized with a relay.
package main

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/dmagur/passlock/internal/config"
	"github.com/dmagur/passlock/internal/keyring"
	"github.com/dmagur/passlock/internal/logger"
	"github.com/dmagur/passlock/internal/merge"
	"github.com/dmagur/passlock/internal/models"
	"github.com/dmagur/passlock/internal/remote"
	"github.com/dmagur/passlock/internal/storage"
	"github.com/dmagur/passlock/internal/syncer"
	"github.com/dmagur/passlock/internal/vault"
)

var (
	version   string
	buildDate string
)

// session holds the relay credentials for the running client and
// implements remote.TokenSource. The token survives restarts in the
// OS keyring; the account secret is kept only for refresh.
type session struct {
	relayURL string
	login    string
	secret   string
	token    string
}

func (s *session) Token() string { return s.token }

// Refresh re-logs in with the cached credentials after the relay
// rejected the current token.
func (s *session) Refresh(ctx context.Context) error {
	if s.login == "" || s.secret == "" {
		return errors.New("no credentials; run login first")
	}
	token, err := relayLogin(ctx, s.relayURL, s.login, s.secret)
	if err != nil {
		return err
	}
	s.token = token
	if err := keyring.SaveToken(s.login, token); err != nil {
		fmt.Println("warning: could not cache token in keyring:", err)
	}
	return nil
}

func relayLogin(ctx context.Context, relayURL, login, secret string) (string, error) {
	body, _ := json.Marshal(map[string]string{"login": login, "secret": secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func relayRegister(ctx context.Context, relayURL, login, secret string) error {
	body, _ := json.Marshal(map[string]string{"login": login, "secret": secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/api/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("register rejected: status %d", resp.StatusCode)
	}
	return nil
}

// promptSecret reads a secret without echoing it.
func promptSecret(label string) ([]byte, error) {
	fmt.Print(label)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	return secret, err
}

func promptLine(scanner *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

func printItems(items []models.VaultItem) {
	if len(items) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, item := range items {
		if item.Title != "" || item.Folder != "" {
			fmt.Printf("ID: %s\nTitle: %s\nURL: %s\nFolder: %s\nUpdated: %s\n---\n",
				item.ID, item.Title, item.URL, item.Folder, item.UpdatedAt.Format(time.RFC3339))
			continue
		}
		fmt.Printf("ID: %s\nURL: %s\nUsername: %s\nPassword: %s\nUpdated: %s\n---\n",
			item.ID, item.URL, item.Username, item.Password, item.UpdatedAt.Format(time.RFC3339))
	}
}

// repl runs the interactive shell loop.
func repl(v *vault.Vault, engine *syncer.Engine, sess *session, relayURL string) {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("passlock> ")
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "help":
			fmt.Println("Commands: help, register, login, logout, unlock, lock, add, add-bookmark, list, bookmarks, update <id>, rm <id>, rm-bookmark <id>, sync, exit")

		case "register":
			login := promptLine(scanner, "Relay login: ")
			secret, err := promptSecret("Relay secret: ")
			if err != nil {
				fmt.Println("read secret:", err)
				continue
			}
			if err := relayRegister(ctx, relayURL, login, string(secret)); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Registered. Run login next.")

		case "login":
			sess.login = promptLine(scanner, "Relay login: ")
			secret, err := promptSecret("Relay secret: ")
			if err != nil {
				fmt.Println("read secret:", err)
				continue
			}
			sess.secret = string(secret)
			if token, err := keyring.GetToken(sess.login); err == nil && token != "" {
				// Cached session; it is refreshed automatically if
				// the relay rejects it.
				sess.token = token
				fmt.Println("Logged in (cached session).")
				continue
			}
			if err := sess.Refresh(ctx); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Logged in.")

		case "logout":
			if sess.login != "" {
				if err := keyring.DeleteToken(sess.login); err != nil {
					fmt.Println("warning: could not remove cached token:", err)
				}
			}
			sess.token = ""
			sess.secret = ""
			fmt.Println("Logged out.")

		case "unlock":
			secret, err := promptSecret("Master secret: ")
			if err != nil {
				fmt.Println("read secret:", err)
				continue
			}
			if err := v.Unlock(secret); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Vault unlocked.")

		case "lock":
			v.Lock()
			fmt.Println("Vault locked.")

		case "add":
			url := promptLine(scanner, "URL: ")
			username := promptLine(scanner, "Username: ")
			password, err := promptSecret("Password: ")
			if err != nil {
				fmt.Println("read password:", err)
				continue
			}
			item, err := v.AddItem(models.KindPassword, models.VaultItem{
				URL: url, Username: username, Password: string(password),
			})
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Added", item.ID)

		case "add-bookmark":
			title := promptLine(scanner, "Title: ")
			url := promptLine(scanner, "URL: ")
			folder := promptLine(scanner, "Folder: ")
			item, err := v.AddItem(models.KindBookmark, models.VaultItem{
				Title: title, URL: url, Folder: folder,
			})
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Added", item.ID)

		case "list":
			items, err := v.VisibleItems()
			if err != nil {
				fmt.Println(err)
				continue
			}
			printItems(items)

		case "bookmarks":
			items, err := v.VisibleBookmarks()
			if err != nil {
				fmt.Println(err)
				continue
			}
			printItems(items)

		case "update":
			if len(args) < 2 {
				fmt.Println("Usage: update <id>")
				continue
			}
			url := promptLine(scanner, "New URL: ")
			username := promptLine(scanner, "New username: ")
			password, err := promptSecret("New password: ")
			if err != nil {
				fmt.Println("read password:", err)
				continue
			}
			if _, err := v.UpdateItem(models.KindPassword, models.VaultItem{
				ID: args[1], URL: url, Username: username, Password: string(password),
			}); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Updated", args[1])

		case "rm", "rm-bookmark":
			if len(args) < 2 {
				fmt.Printf("Usage: %s <id>\n", args[0])
				continue
			}
			kind := models.KindPassword
			if args[0] == "rm-bookmark" {
				kind = models.KindBookmark
			}
			if err := v.SoftDeleteItem(kind, args[1]); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Deleted", args[1])

		case "sync":
			res, err := engine.PerformSync(ctx)
			if err != nil {
				fmt.Println("sync failed:", err)
				continue
			}
			if res.Status == syncer.StatusInProgress {
				fmt.Println("sync already in progress")
				continue
			}
			fmt.Printf("Sync complete: %d conflicts resolved, %d queued mutations dropped\n",
				len(res.Conflicts), res.QueueFailures)

		case "exit", "quit":
			v.Lock()
			return

		default:
			fmt.Println("Unknown command. Try help.")
		}
	}
}

func main() {
	options := config.Parse()

	fmt.Printf("passlock client %s (%s)\n",
		cmp.Or(version, "dev"), cmp.Or(buildDate, "unknown build date"))

	log := logger.New()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Println("init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Log.Sync() }()

	store, err := storage.Open(options.VaultPath, vault.DefaultBackupCap)
	if err != nil {
		fmt.Println("open local store:", err)
		os.Exit(1)
	}
	defer store.Close()

	deviceID := options.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	sess := &session{relayURL: options.RelayURL}
	client := remote.NewClient(options.RelayURL, deviceID, sess, nil)

	v := vault.New(store, store, log.Log,
		vault.WithIdleWindow(time.Duration(options.IdleMinutes)*time.Minute))
	engine := syncer.New(v, client, store, store, merge.Policy(options.MergePolicy), log.Log)

	fmt.Println("Type help for commands.")
	repl(v, engine, sess, options.RelayURL)
}

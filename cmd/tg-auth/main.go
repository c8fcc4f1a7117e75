// Command tg-auth links a Telegram account from the terminal, either by
// importing a Telegram Desktop session or through the phone code login.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/session/tdesktop"

	"github.com/blockedby/memesite/internal/config"
	"github.com/blockedby/memesite/internal/database"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
	"github.com/blockedby/memesite/internal/telegram"
	"github.com/blockedby/memesite/internal/tgauth"
)

// cliUser owns sessions captured without --user; they are printed, never stored.
const cliUser = "tg-auth"

func main() {
	userID := flag.String("user", "", "store the session for this application user")
	flag.Parse()

	fmt.Println("=== telegram auth tool ===")
	fmt.Println("this tool links a telegram account and prints its session string")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fail("load config", err)
	}
	_ = logger.Init("warn", "")

	reader := bufio.NewReader(os.Stdin)
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		cfg.TGApiID, cfg.TGApiHash = promptAPICredentials(reader)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	capture := &captureStore{}
	if *userID != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			fail("connect to database", err)
		}
		defer db.Close()
		capture.next = repository.NewSessionStore(db.GORM, logger.Get())
	}

	owner := *userID
	if owner == "" {
		owner = cliUser
	}

	dialer := telegram.NewGotdDialer(cfg)

	accounts, tdataPath := findDesktopAccounts(reader)
	if len(accounts) > 0 && chooseDesktop(reader, len(accounts), tdataPath) {
		err = importDesktop(ctx, dialer, capture, owner, pickAccount(reader, accounts))
	} else {
		err = phoneLogin(ctx, tgauth.New(dialer, capture, nil, logger.Get()), reader, owner)
	}
	if err != nil {
		fail("authentication failed", err)
	}
	if capture.saved == nil {
		fail("authentication failed", fmt.Errorf("no session was captured"))
	}

	fmt.Println("\n✓ authentication successful!")
	if u := capture.saved.UserInfo; u != nil {
		fmt.Printf("logged in as: %s (@%s)\n", u.DisplayName(), u.Username)
	}
	if *userID != "" {
		fmt.Printf("session stored for user %s, phone %s\n", *userID, logger.MaskPhone(capture.saved.Phone))
	}
	fmt.Println("\nyour session string:")
	fmt.Println("---")
	fmt.Println(capture.saved.Session)
	fmt.Println("---")
	fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
}

// captureStore records the session tgauth persists and forwards it to next
// when a database is configured.
type captureStore struct {
	next  tgauth.SessionWriter
	saved *models.PersistedSession
}

func (c *captureStore) Upsert(ctx context.Context, userID string, sess *models.PersistedSession) error {
	c.saved = sess
	if c.next == nil {
		return nil
	}
	return c.next.Upsert(ctx, userID, sess)
}

// phoneLogin drives the same code and 2FA flow the HTTP endpoints use.
func phoneLogin(ctx context.Context, auth *tgauth.Authenticator, reader *bufio.Reader, userID string) error {
	phone := prompt(reader, "enter your phone number (with country code, e.g. +1234567890): ")

	sent, err := auth.RequestCode(ctx, phone)
	if err != nil {
		return err
	}
	if sent.AlreadyAuthorized {
		fmt.Println("session is already authorized")
	}

	req := tgauth.VerifyRequest{SessionInfo: sent.SessionInfo, UserID: userID}
	if !sent.AlreadyAuthorized {
		req.Code = prompt(reader, "enter the code telegram sent you: ")
	}

	res, err := auth.Verify(ctx, req)
	if err != nil {
		return err
	}
	if res.Requires2FA {
		res, err = auth.Verify(ctx, tgauth.VerifyRequest{
			Password:    prompt(reader, "enter your 2FA password: "),
			SessionInfo: res.SessionInfo,
			UserID:      userID,
		})
		if err != nil {
			return err
		}
	}
	if !res.Success {
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}

// importDesktop converts a Telegram Desktop account into a session string.
func importDesktop(ctx context.Context, dialer telegram.Dialer, store tgauth.SessionWriter, userID string, acc tdesktop.Account) error {
	data, err := session.TDesktopSession(acc)
	if err != nil {
		return fmt.Errorf("convert desktop session: %w", err)
	}
	seed, err := telegram.EncodeSession(data)
	if err != nil {
		return err
	}

	fmt.Println("\nauthenticating with telegram desktop session...")
	conn, err := dialer.Dial(ctx, seed)
	if err != nil {
		return err
	}
	defer conn.Close()

	self, err := conn.Self(ctx)
	if err != nil {
		return fmt.Errorf("desktop session is not authorized: %w", err)
	}
	if self.Phone == "" {
		return fmt.Errorf("telegram did not report a phone number for this account")
	}
	sessionString, err := conn.Session(ctx)
	if err != nil {
		return err
	}

	return store.Upsert(ctx, userID, &models.PersistedSession{
		Phone:   models.NormalizePhone("+" + strings.TrimPrefix(self.Phone, "+")),
		Session: sessionString,
		Created: time.Now().UTC(),
		UserInfo: &models.UserProfileSnapshot{
			ID:        strconv.FormatInt(self.ID, 10),
			FirstName: self.FirstName,
			LastName:  self.LastName,
			Username:  self.Username,
			Phone:     self.Phone,
			Premium:   self.Premium,
			Verified:  self.Verified,
			Scam:      self.Scam,
			Fake:      self.Fake,
			Bot:       self.Bot,
		},
	})
}

// findDesktopAccounts looks for tdata at the default location, then asks.
func findDesktopAccounts(reader *bufio.Reader) ([]tdesktop.Account, string) {
	tdataPath := desktopDataPath()
	accounts, err := tdesktop.Read(tdataPath, nil)
	if err == nil && len(accounts) > 0 {
		return accounts, tdataPath
	}

	fmt.Printf("default path not found: %s\n", tdataPath)
	customPath := prompt(reader, "enter telegram desktop path (or press enter to skip): ")
	if customPath == "" {
		return nil, ""
	}
	if !strings.HasSuffix(customPath, "tdata") {
		customPath = filepath.Join(customPath, "tdata")
	}
	accounts, err = tdesktop.Read(customPath, nil)
	if err != nil {
		fmt.Printf("could not read %s: %v\n", customPath, err)
		return nil, ""
	}
	return accounts, customPath
}

func chooseDesktop(reader *bufio.Reader, n int, path string) bool {
	fmt.Printf("\ndetected %d telegram desktop session(s) at: %s\n\n", n, path)
	fmt.Println("choose authentication method:")
	fmt.Println("  1. use telegram desktop session (recommended)")
	fmt.Println("  2. authenticate with phone number (sms/code)")
	return prompt(reader, "\nenter choice [1]: ") != "2"
}

func pickAccount(reader *bufio.Reader, accounts []tdesktop.Account) tdesktop.Account {
	if len(accounts) == 1 {
		fmt.Println("\nusing the only available account")
		return accounts[0]
	}

	fmt.Printf("\nfound %d telegram accounts:\n", len(accounts))
	for i := range accounts {
		fmt.Printf("  %d. Account #%d\n", i+1, i+1)
	}
	n, err := strconv.Atoi(prompt(reader, "\nselect account number [1]: "))
	if err != nil || n < 1 || n > len(accounts) {
		n = 1
	}
	return accounts[n-1]
}

// desktopDataPath returns the Telegram Desktop data directory for this OS.
func desktopDataPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// promptAPICredentials asks for the app credentials missing from the environment.
func promptAPICredentials(reader *bufio.Reader) (int, string) {
	apiID, err := strconv.Atoi(prompt(reader, "enter your api_id (from https://my.telegram.org): "))
	if err != nil {
		fail("invalid api_id", err)
	}
	return apiID, prompt(reader, "enter your api_hash: ")
}

func prompt(reader *bufio.Reader, msg string) string {
	fmt.Print(msg)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func fail(msg string, err error) {
	fmt.Printf("error: %s: %v\n", msg, err)
	os.Exit(1)
}

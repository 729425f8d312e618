package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"pipeline/internal/accounts"
	"pipeline/internal/auth"
	"pipeline/internal/config"
	"pipeline/internal/credits"
	"pipeline/internal/database"
)

const usage = `usage: admin <command> [flags]

commands:
  create-admin   创建管理员账号（首次登录需强制改密）
  grant-credits  调整用户的储备额度
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "create-admin":
		err = runCreateAdmin(os.Args[2:], os.Stdout)
	case "grant-credits":
		err = runGrantCredits(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runCreateAdmin(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("create-admin", pflag.ContinueOnError)
	username := fs.String("username", "", "管理员用户名（必填）")
	email := fs.String("email", "", "管理员邮箱（必填）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" || strings.TrimSpace(*email) == "" {
		return fmt.Errorf("missing required flags: --username and --email")
	}

	svc, err := openAccounts()
	if err != nil {
		return err
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	user, err := svc.Create(context.Background(), accounts.CreateInput{
		Username: *username,
		Email:    *email,
		Password: password,
		IsAdmin:  true,
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Fprintf(out, "已创建管理员账号（首次登录需强制改密）：\n")
	fmt.Fprintf(out, "用户名: %s\n", user.Username)
	fmt.Fprintf(out, "初始密码: %s\n", password)
	fmt.Fprintf(out, "提示：请立即登录并修改密码（该密码仅显示一次）。\n")
	return nil
}

func runGrantCredits(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("grant-credits", pflag.ContinueOnError)
	userID := fs.Uint("user-id", 0, "用户 ID（必填）")
	operation := fs.String("op", credits.OpAdd, "操作：add、subtract 或 set")
	amount := fs.Int("amount", 0, "额度数量（非负）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 {
		return fmt.Errorf("missing required flag: --user-id")
	}
	if *amount < 0 {
		return fmt.Errorf("--amount must not be negative")
	}

	svc, err := openAccounts()
	if err != nil {
		return err
	}
	user, err := svc.AdjustCredits(context.Background(), *userID, *operation, *amount)
	if err != nil {
		return fmt.Errorf("adjust credits: %w", err)
	}
	fmt.Fprintf(out, "用户 %s 当前储备额度: %d\n", user.Username, user.BankedCredits)
	return nil
}

func openAccounts() (*accounts.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	return accounts.NewService(db, cfg.Credits.ReferralBonus, logger), nil
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		// 极少数情况下不含数字，重新生成以满足口令规则。
		if password := base64.RawURLEncoding.EncodeToString(buf); auth.ValidatePassword(password) == "" {
			return password, nil
		}
	}
}
